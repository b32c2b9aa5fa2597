package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (engine, model, stream shape, listen address) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProcessorParamsChanged is true if any enhancement parameter was added,
	// removed or given a new value.
	ProcessorParamsChanged bool
	ProcessorParams        map[string]float32

	// VADParamsChanged is true if any VAD parameter changed.
	VADParamsChanged bool
	VADParams        map[string]float32

	// RestartRequired lists the top-level sections whose changes are not
	// applied until the server restarts.
	RestartRequired []string
}

// Changed reports whether d carries anything to apply or report.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ProcessorParamsChanged || d.VADParamsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !maps.Equal(old.Processor.Parameters, new.Processor.Parameters) {
		d.ProcessorParamsChanged = true
		d.ProcessorParams = maps.Clone(new.Processor.Parameters)
	}
	if !maps.Equal(old.VAD.Parameters, new.VAD.Parameters) {
		d.VADParamsChanged = true
		d.VADParams = maps.Clone(new.VAD.Parameters)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.MaxSessions != new.Server.MaxSessions {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Engine.Name != new.Engine.Name || old.Engine.LicenseKey != new.Engine.LicenseKey ||
		old.Engine.LicenseKeyEnv != new.Engine.LicenseKeyEnv || !sameOptions(old.Engine.Options, new.Engine.Options) {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.Model != new.Model {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	if !sameStream(old.Processor, new.Processor) {
		d.RestartRequired = append(d.RestartRequired, "processor")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// sameOptions compares engine options; nil and empty are the same.
func sameOptions(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// sameStream compares the stream-shape fields of two processor configs.
func sameStream(a, b ProcessorConfig) bool {
	return a.SampleRate == b.SampleRate &&
		a.NumChannels == b.NumChannels &&
		a.NumFrames == b.NumFrames &&
		a.AllowVariableFrames == b.AllowVariableFrames
}
