// Package enhancer defines the boundary between voxbridge and a speech
// enhancement + voice activity detection engine.
//
// The engine itself (model loading, DSP, enhancement, VAD detection) is an
// opaque collaborator. A Runtime is the entry point of one engine
// implementation: it loads models and creates stateful Processor instances
// bound to a model and a license credential.
//
// Processor implementations are NOT required to be safe for concurrent use.
// The bridge package serialises every call to a Processor behind its own
// mutex; callers that use a Processor directly must do the same.
package enhancer

import "context"

// Runtime is the top-level interface implemented by each engine backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// load models and create processors simultaneously.
type Runtime interface {
	// Version reports the engine SDK version string. It has no failure mode.
	Version() string

	// LoadModel loads a model definition from a file on disk.
	LoadModel(path string) (Model, error)

	// DownloadModel fetches the model identified by id into dir and returns
	// the path of the downloaded file. Implementations without network
	// access return an error.
	DownloadModel(ctx context.Context, id, dir string) (string, error)

	// NewProcessor constructs a processor instance for model. It fails if the
	// license is rejected or the model is incompatible with this runtime.
	NewProcessor(model Model, license string) (Processor, error)
}

// Model is a loaded, immutable model definition. Implementations must be safe
// for concurrent read-only use by many processors.
type Model interface {
	// ID returns the stable identifier of the loaded model.
	ID() string

	// OptimalSampleRate returns the sample rate the model was trained for.
	OptimalSampleRate() (uint32, error)

	// OptimalNumFrames returns the recommended block length at sampleRate.
	OptimalNumFrames(sampleRate uint32) (int, error)
}

// Processor is one stateful enhancement + VAD engine instance.
//
// A Processor starts uninitialised; Initialize must succeed before any
// Process call. Buffers are processed in place and are never retained after
// the call returns.
type Processor interface {
	// Initialize (re)configures the processor. It replaces any previous
	// configuration and clears transient state.
	Initialize(cfg Config) error

	// ProcessInterleaved processes one block where the samples of all
	// channels at a frame are adjacent.
	ProcessInterleaved(buf []float32) error

	// ProcessSequential processes one block laid out channel-major: all of
	// channel 0, then all of channel 1, and so on.
	ProcessSequential(buf []float32) error

	// ProcessPlanar processes one block supplied as one buffer per channel.
	ProcessPlanar(channels [][]float32) error

	// Reset clears transient state (filter history, VAD smoothing) while
	// keeping the configuration.
	Reset() error

	// OutputDelay reports the algorithmic latency in samples.
	OutputDelay() (int, error)

	// SetParameter writes an enhancement parameter. Range checking belongs to
	// the implementation.
	SetParameter(p ProcessorParameter, value float32) error

	// Parameter reads an enhancement parameter.
	Parameter(p ProcessorParameter) (float32, error)

	// SetVadParameter writes a voice activity detection parameter.
	SetVadParameter(p VadParameter, value float32) error

	// VadParameter reads a voice activity detection parameter.
	VadParameter(p VadParameter) (float32, error)

	// IsSpeechDetected reports the most recent VAD decision, updated as a
	// side effect of processing.
	IsSpeechDetected() bool

	// Close releases all engine resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}
