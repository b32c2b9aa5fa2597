package server

import (
	"github.com/MrWong99/voxbridge/pkg/bridge"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// Control ops accepted on a stream.
const (
	opInitialize     = "initialize"
	opSetParameter   = "set_parameter"
	opParameter      = "parameter"
	opReset          = "reset"
	opOutputDelay    = "output_delay"
	opSpeechDetected = "speech_detected"
	opLayout         = "layout"
	opState          = "state"

	// opBlock labels error replies to binary frames.
	opBlock = "block"
)

const (
	targetProcessor = "processor"
	targetVAD       = "vad"
)

// request is a control message. Fields not used by an op are ignored.
type request struct {
	ID uint64 `json:"id,omitempty"`
	Op string `json:"op"`

	// initialize; omitted fields take the server defaults.
	SampleRate          uint32 `json:"sample_rate,omitempty"`
	NumChannels         uint16 `json:"num_channels,omitempty"`
	NumFrames           int    `json:"num_frames,omitempty"`
	AllowVariableFrames *bool  `json:"allow_variable_frames,omitempty"`

	// set_parameter and parameter. A parameter is addressed by wire code or
	// by name; the code wins when both are present.
	Target string   `json:"target,omitempty"`
	Code   *int     `json:"code,omitempty"`
	Name   string   `json:"name,omitempty"`
	Value  *float32 `json:"value,omitempty"`

	// layout
	Layout   string `json:"layout,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type response struct {
	ID    uint64 `json:"id,omitempty"`
	Op    string `json:"op"`
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

func failure(req request, err error) response {
	return response{ID: req.ID, Op: req.Op, Error: err.Error(), Kind: bridge.Kind(err)}
}

func (r request) config(def enhancer.Config) enhancer.Config {
	cfg := def
	if r.SampleRate != 0 {
		cfg.SampleRate = r.SampleRate
	}
	if r.NumChannels != 0 {
		cfg.NumChannels = r.NumChannels
	}
	if r.NumFrames != 0 {
		cfg.NumFrames = r.NumFrames
	}
	if r.AllowVariableFrames != nil {
		cfg.AllowVariableFrames = *r.AllowVariableFrames
	}
	return cfg
}

func (r request) target() string {
	if r.Target == "" {
		return targetProcessor
	}
	return r.Target
}

func (r request) processorParameter() (enhancer.ProcessorParameter, error) {
	switch {
	case r.Code != nil:
		return bridge.DecodeProcessorParameter(*r.Code)
	case r.Name != "":
		return bridge.ParseProcessorParameterName(r.Name)
	}
	return 0, &bridge.ArgumentError{Kind: "processor parameter", Value: nil}
}

func (r request) vadParameter() (enhancer.VadParameter, error) {
	switch {
	case r.Code != nil:
		return bridge.DecodeVadParameter(*r.Code)
	case r.Name != "":
		return bridge.ParseVadParameterName(r.Name)
	}
	return 0, &bridge.ArgumentError{Kind: "VAD parameter", Value: nil}
}
