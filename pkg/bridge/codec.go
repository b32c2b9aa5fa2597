package bridge

import "github.com/MrWong99/voxbridge/pkg/provider/enhancer"

// Version is the bridge version reported next to the engine version.
const Version = "1.0.0"

// Wire codes for enhancement parameters. These integers, and the model type
// names, are the only identifiers that cross the host boundary at runtime.
const (
	ProcessorParamBypass           = 0
	ProcessorParamEnhancementLevel = 1
	ProcessorParamVoiceGain        = 2
)

// Wire codes for VAD parameters. The numeric values overlap with the
// processor codes; every call site is typed to one of the two enumerations.
const (
	VadParamSpeechHoldDuration    = 0
	VadParamSensitivity           = 1
	VadParamMinimumSpeechDuration = 2
)

// DecodeProcessorParameter maps a wire code to an enhancement parameter.
func DecodeProcessorParameter(code int) (enhancer.ProcessorParameter, error) {
	switch code {
	case ProcessorParamBypass:
		return enhancer.Bypass, nil
	case ProcessorParamEnhancementLevel:
		return enhancer.EnhancementLevel, nil
	case ProcessorParamVoiceGain:
		return enhancer.VoiceGain, nil
	}
	return 0, &ArgumentError{Kind: "processor parameter", Value: code}
}

// DecodeVadParameter maps a wire code to a VAD parameter.
func DecodeVadParameter(code int) (enhancer.VadParameter, error) {
	switch code {
	case VadParamSpeechHoldDuration:
		return enhancer.SpeechHoldDuration, nil
	case VadParamSensitivity:
		return enhancer.Sensitivity, nil
	case VadParamMinimumSpeechDuration:
		return enhancer.MinimumSpeechDuration, nil
	}
	return 0, &ArgumentError{Kind: "VAD parameter", Value: code}
}

// DecodeModelType maps an exact, case-sensitive model name to a model type.
func DecodeModelType(name string) (enhancer.ModelType, error) {
	switch m := enhancer.ModelType(name); m {
	case enhancer.ModelQuailL48,
		enhancer.ModelQuailL16,
		enhancer.ModelQuailL8,
		enhancer.ModelQuailS48,
		enhancer.ModelQuailS16,
		enhancer.ModelQuailS8,
		enhancer.ModelQuailXs,
		enhancer.ModelQuailXxs,
		enhancer.ModelQuailSttL16,
		enhancer.ModelQuailSttL8,
		enhancer.ModelQuailSttS16,
		enhancer.ModelQuailSttS8,
		enhancer.ModelQuailVfSttL16:
		return m, nil
	}
	return "", &ArgumentError{Kind: "model type", Value: name}
}

// ParseProcessorParameterName maps a snake_case parameter name (as used in
// configuration files) to an enhancement parameter.
func ParseProcessorParameterName(name string) (enhancer.ProcessorParameter, error) {
	for _, p := range enhancer.ProcessorParameters() {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, &ArgumentError{Kind: "processor parameter name", Value: name}
}

// ParseVadParameterName maps a snake_case parameter name to a VAD parameter.
func ParseVadParameterName(name string) (enhancer.VadParameter, error) {
	for _, p := range enhancer.VadParameters() {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, &ArgumentError{Kind: "VAD parameter name", Value: name}
}

// Constants returns the exported wire-code table, keyed the way hosts
// expect to find them.
func Constants() map[string]int {
	return map[string]int{
		"PROCESSOR_PARAM_BYPASS":            ProcessorParamBypass,
		"PROCESSOR_PARAM_ENHANCEMENT_LEVEL": ProcessorParamEnhancementLevel,
		"PROCESSOR_PARAM_VOICE_GAIN":        ProcessorParamVoiceGain,
		"VAD_PARAM_SPEECH_HOLD_DURATION":    VadParamSpeechHoldDuration,
		"VAD_PARAM_SENSITIVITY":             VadParamSensitivity,
		"VAD_PARAM_MINIMUM_SPEECH_DURATION": VadParamMinimumSpeechDuration,
	}
}
