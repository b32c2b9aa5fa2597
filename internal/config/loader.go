package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxbridge/pkg/bridge"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// ValidEngineNames lists the engines built into voxbridge.
// Used by [Validate] to warn about unrecognised engine names.
var ValidEngineNames = []string{"reference"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}

	// Engine
	if cfg.Engine.Name == "" {
		errs = append(errs, errors.New("engine.name is required"))
	} else if !slices.Contains(ValidEngineNames, cfg.Engine.Name) {
		slog.Warn("unknown engine name; may be a typo or a third-party engine",
			"name", cfg.Engine.Name,
			"known", ValidEngineNames,
		)
	}
	if cfg.Engine.LicenseKey == "" && cfg.Engine.LicenseKeyEnv == "" {
		slog.Warn("engine.license_key and engine.license_key_env are both empty; processor creation will likely fail")
	}

	// Model
	switch {
	case cfg.Model.Path != "" && cfg.Model.Type != "":
		errs = append(errs, errors.New("model.path and model.type are mutually exclusive"))
	case cfg.Model.Path == "" && cfg.Model.Type == "":
		errs = append(errs, errors.New("one of model.path or model.type is required"))
	case cfg.Model.Type != "":
		if _, err := bridge.DecodeModelType(cfg.Model.Type); err != nil {
			errs = append(errs, fmt.Errorf("model.type: %w", err))
		}
		if cfg.Model.DownloadDir == "" {
			errs = append(errs, errors.New("model.download_dir is required when model.type is set"))
		}
	}

	// Processor
	if cfg.Processor.NumChannels > bridge.MaxChannels {
		slog.Warn("processor.num_channels exceeds the planar channel limit; planar layout will be rejected",
			"num_channels", cfg.Processor.NumChannels,
			"max", bridge.MaxChannels,
		)
	}
	if cfg.Processor.NumFrames < 0 {
		errs = append(errs, fmt.Errorf("processor.num_frames %d must not be negative", cfg.Processor.NumFrames))
	}
	errs = append(errs, validateProcessorParameters(cfg.Processor.Parameters)...)
	errs = append(errs, validateVADParameters(cfg.VAD.Parameters)...)

	return errors.Join(errs...)
}

// validateProcessorParameters checks every key against the parameter codec.
// Values are left to the engine, which owns the accepted ranges.
func validateProcessorParameters(params map[string]float32) []error {
	var errs []error
	for _, name := range sortedKeys(params) {
		if _, err := bridge.ParseProcessorParameterName(name); err != nil {
			errs = append(errs, fmt.Errorf("processor.parameters: %w", err))
		}
	}
	return errs
}

func validateVADParameters(params map[string]float32) []error {
	var errs []error
	for _, name := range sortedKeys(params) {
		if _, err := bridge.ParseVadParameterName(name); err != nil {
			errs = append(errs, fmt.Errorf("vad.parameters: %w", err))
		}
	}
	return errs
}

func sortedKeys(m map[string]float32) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ResolveLicenseKey resolves the engine license: the literal key if set, otherwise
// the value of the configured environment variable.
func (e EngineEntry) ResolveLicenseKey() string {
	if e.LicenseKey != "" {
		return e.LicenseKey
	}
	if e.LicenseKeyEnv != "" {
		return os.Getenv(e.LicenseKeyEnv)
	}
	return ""
}

// Uint32Option reads the integer engine option key. ok is false when the key
// is absent.
func (e EngineEntry) Uint32Option(key string) (v uint32, ok bool, err error) {
	raw, ok := e.Options[key]
	if !ok {
		return 0, false, nil
	}
	n, isInt := raw.(int)
	if !isInt || n < 0 || uint64(n) > math.MaxUint32 {
		return 0, true, fmt.Errorf("engine.options.%s: want a non-negative integer, got %v", key, raw)
	}
	return uint32(n), true, nil
}

// ProcessorParameters decodes the configured enhancement parameters. Invalid
// names were rejected by [Validate]; they are skipped here.
func (p ProcessorConfig) ProcessorParameters() map[enhancer.ProcessorParameter]float32 {
	out := make(map[enhancer.ProcessorParameter]float32, len(p.Parameters))
	for name, v := range p.Parameters {
		if k, err := bridge.ParseProcessorParameterName(name); err == nil {
			out[k] = v
		}
	}
	return out
}

// VadParameters decodes the configured VAD parameters.
func (v VADConfig) VadParameters() map[enhancer.VadParameter]float32 {
	out := make(map[enhancer.VadParameter]float32, len(v.Parameters))
	for name, val := range v.Parameters {
		if k, err := bridge.ParseVadParameterName(name); err == nil {
			out[k] = val
		}
	}
	return out
}
