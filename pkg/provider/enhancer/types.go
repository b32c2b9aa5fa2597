package enhancer

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by Processor implementations when a call that
// needs a configuration arrives before a successful Initialize.
var ErrNotInitialized = errors.New("processor is not initialized")

// Config describes the audio stream a Processor is initialised for.
type Config struct {
	// SampleRate is the stream sample rate in Hz.
	SampleRate uint32

	// NumChannels is the number of audio channels per block.
	NumChannels uint16

	// NumFrames is the block length in frames (samples per channel).
	NumFrames int

	// AllowVariableFrames permits blocks shorter than NumFrames. Blocks are
	// never allowed to exceed NumFrames.
	AllowVariableFrames bool
}

// SamplesPerBlock returns NumFrames * NumChannels.
func (c Config) SamplesPerBlock() int {
	return c.NumFrames * int(c.NumChannels)
}

// String renders the config for logs, e.g. "48000Hz/2ch/480f".
func (c Config) String() string {
	s := fmt.Sprintf("%dHz/%dch/%df", c.SampleRate, c.NumChannels, c.NumFrames)
	if c.AllowVariableFrames {
		s += "(variable)"
	}
	return s
}

// ModelType names one of the published model variants. The string value is
// the canonical name and doubles as the download identifier.
type ModelType string

const (
	ModelQuailL48      ModelType = "QuailL48"
	ModelQuailL16      ModelType = "QuailL16"
	ModelQuailL8       ModelType = "QuailL8"
	ModelQuailS48      ModelType = "QuailS48"
	ModelQuailS16      ModelType = "QuailS16"
	ModelQuailS8       ModelType = "QuailS8"
	ModelQuailXs       ModelType = "QuailXs"
	ModelQuailXxs      ModelType = "QuailXxs"
	ModelQuailSttL16   ModelType = "QuailSttL16"
	ModelQuailSttL8    ModelType = "QuailSttL8"
	ModelQuailSttS16   ModelType = "QuailSttS16"
	ModelQuailSttS8    ModelType = "QuailSttS8"
	ModelQuailVfSttL16 ModelType = "QuailVfSttL16"
)

// ModelTypes lists every model variant in declaration order.
func ModelTypes() []ModelType {
	return []ModelType{
		ModelQuailL48, ModelQuailL16, ModelQuailL8,
		ModelQuailS48, ModelQuailS16, ModelQuailS8,
		ModelQuailXs, ModelQuailXxs,
		ModelQuailSttL16, ModelQuailSttL8, ModelQuailSttS16, ModelQuailSttS8,
		ModelQuailVfSttL16,
	}
}

// String returns the canonical model name.
func (m ModelType) String() string { return string(m) }

// ProcessorParameter identifies a tunable enhancement parameter.
type ProcessorParameter int

const (
	// Bypass disables enhancement when set to 1.0.
	Bypass ProcessorParameter = iota

	// EnhancementLevel controls the strength of the enhancement.
	EnhancementLevel

	// VoiceGain is a linear gain applied to the enhanced voice.
	VoiceGain
)

// ProcessorParameters lists every enhancement parameter.
func ProcessorParameters() []ProcessorParameter {
	return []ProcessorParameter{Bypass, EnhancementLevel, VoiceGain}
}

// String returns the snake_case name of the parameter.
func (p ProcessorParameter) String() string {
	switch p {
	case Bypass:
		return "bypass"
	case EnhancementLevel:
		return "enhancement_level"
	case VoiceGain:
		return "voice_gain"
	default:
		return fmt.Sprintf("processor_parameter(%d)", int(p))
	}
}

// Default returns the value a freshly created Processor reports for p.
func (p ProcessorParameter) Default() float32 {
	switch p {
	case EnhancementLevel, VoiceGain:
		return 1
	default:
		return 0
	}
}

// Range returns the inclusive bounds engines accept for p. ok is false for an
// unknown parameter.
func (p ProcessorParameter) Range() (lo, hi float32, ok bool) {
	switch p {
	case Bypass, EnhancementLevel:
		return 0, 1, true
	case VoiceGain:
		return 0.1, 4, true
	default:
		return 0, 0, false
	}
}

// VadParameter identifies a tunable voice activity detection parameter.
type VadParameter int

const (
	// SpeechHoldDuration is how long (seconds) the speech flag stays set
	// after the detector stops reporting speech.
	SpeechHoldDuration VadParameter = iota

	// Sensitivity controls how readily audio is classified as speech.
	Sensitivity

	// MinimumSpeechDuration is how long (seconds) speech must persist before
	// the speech flag is raised.
	MinimumSpeechDuration
)

// VadParameters lists every VAD parameter.
func VadParameters() []VadParameter {
	return []VadParameter{SpeechHoldDuration, Sensitivity, MinimumSpeechDuration}
}

// String returns the snake_case name of the parameter.
func (p VadParameter) String() string {
	switch p {
	case SpeechHoldDuration:
		return "speech_hold_duration"
	case Sensitivity:
		return "sensitivity"
	case MinimumSpeechDuration:
		return "minimum_speech_duration"
	default:
		return fmt.Sprintf("vad_parameter(%d)", int(p))
	}
}

// Default returns the value a freshly created Processor reports for p.
func (p VadParameter) Default() float32 {
	switch p {
	case SpeechHoldDuration:
		return 0.05
	case Sensitivity:
		return 6
	default:
		return 0
	}
}

// Range returns the inclusive bounds engines accept for p. ok is false for an
// unknown parameter.
func (p VadParameter) Range() (lo, hi float32, ok bool) {
	switch p {
	case SpeechHoldDuration, MinimumSpeechDuration:
		return 0, 1, true
	case Sensitivity:
		return 1, 15, true
	default:
		return 0, 0, false
	}
}
