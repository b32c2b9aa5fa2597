// Package config provides the configuration schema, loader, and engine registry
// for the voxbridge server.
package config

// LogLevel controls log verbosity for the voxbridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DefaultListenAddr is used when server.listen_addr is empty.
const DefaultListenAddr = ":8080"

// DefaultMaxSessions is used when server.max_sessions is zero.
const DefaultMaxSessions = 64

// Config is the root configuration structure for voxbridge.
// It is typically loaded from a YAML file via [Load].
type Config struct {
	// Server holds network and logging settings.
	Server ServerConfig `yaml:"server"`

	// Engine selects and authenticates the enhancement engine.
	Engine EngineEntry `yaml:"engine"`

	// Model names the model every session processor is created from.
	Model ModelConfig `yaml:"model"`

	// Processor is the stream configuration and initial enhancement
	// parameters applied to every new session.
	Processor ProcessorConfig `yaml:"processor"`

	// VAD holds the initial voice activity detection parameters.
	VAD VADConfig `yaml:"vad"`

	// Telemetry configures the OpenTelemetry resource.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the host API.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls log verbosity. Defaults to "info" if empty.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxSessions caps concurrent streaming sessions. Zero selects
	// [DefaultMaxSessions].
	MaxSessions int `yaml:"max_sessions"`
}

// EngineEntry is the configuration for the enhancement engine.
type EngineEntry struct {
	// Name is the registered engine name (e.g., "reference").
	Name string `yaml:"name"`

	// LicenseKey is the credential passed to the engine when a processor is
	// created.
	LicenseKey string `yaml:"license_key"`

	// LicenseKeyEnv names an environment variable holding the license key.
	// It is consulted only when LicenseKey is empty.
	LicenseKeyEnv string `yaml:"license_key_env"`

	// Options holds engine-specific settings not covered by the fields above.
	// They are handed to the engine factory, which rejects keys it does not
	// know. Read them with [EngineEntry.Uint32Option].
	Options map[string]any `yaml:"options"`
}

// ModelConfig locates the model file. Either Path is set, or Type and
// DownloadDir are set and the model is downloaded at startup.
type ModelConfig struct {
	Path        string `yaml:"path"`
	Type        string `yaml:"type"`
	DownloadDir string `yaml:"download_dir"`
}

// ProcessorConfig is the per-session stream configuration.
type ProcessorConfig struct {
	// SampleRate in Hz. Zero selects the model's optimal sample rate.
	SampleRate uint32 `yaml:"sample_rate"`

	// NumChannels per block. Defaults to 1.
	NumChannels uint16 `yaml:"num_channels"`

	// NumFrames per block. Zero selects the model's optimal block length.
	NumFrames int `yaml:"num_frames"`

	// AllowVariableFrames permits blocks shorter than NumFrames.
	AllowVariableFrames bool `yaml:"allow_variable_frames"`

	// Parameters maps enhancement parameter names (bypass,
	// enhancement_level, voice_gain) to their initial values.
	Parameters map[string]float32 `yaml:"parameters"`
}

// VADConfig holds initial VAD parameters keyed by name
// (speech_hold_duration, sensitivity, minimum_speech_duration).
type VADConfig struct {
	Parameters map[string]float32 `yaml:"parameters"`
}

// TelemetryConfig configures the OpenTelemetry resource attributes.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Defaults to "voxbridge".
	ServiceName string `yaml:"service_name"`
}
