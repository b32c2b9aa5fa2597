// Package mock provides test doubles for the enhancer package interfaces.
//
// Runtime hands out a configurable Model and Processor and records every call.
// Processor behaves like a small but honest engine: it keeps parameter state,
// rejects out-of-range values, refuses to process before Initialize and
// validates block lengths against the active Config. Error fields let tests
// inject engine failures.
//
// Example:
//
//	proc := &mock.Processor{}
//	rt := &mock.Runtime{Processor: proc}
//	m, _ := rt.LoadModel("quail.aicmodel")
//	p, _ := rt.NewProcessor(m, "license")
package mock

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// ErrParameterRange is returned when a parameter write is outside the range
// reported by the parameter's Range method.
var ErrParameterRange = errors.New("mock: parameter value out of range")

// ---------------------------------------------------------------------------
// Runtime
// ---------------------------------------------------------------------------

// NewProcessorCall records a single invocation of Runtime.NewProcessor.
type NewProcessorCall struct {
	// ModelID is the ID of the model passed to NewProcessor.
	ModelID string

	// License is the license credential passed to NewProcessor.
	License string
}

// DownloadCall records a single invocation of Runtime.DownloadModel.
type DownloadCall struct {
	ID  string
	Dir string
}

// Runtime is a mock implementation of enhancer.Runtime.
type Runtime struct {
	mu sync.Mutex

	// VersionValue is returned by Version. Defaults to "mock-1.0.0".
	VersionValue string

	// Model, if non-nil, is returned by every LoadModel call. Otherwise
	// LoadModel returns a fresh Model whose ID is the file base name.
	Model *Model

	// Processor, if non-nil, is returned by NewProcessor. Otherwise a fresh
	// Processor is created per call.
	Processor *Processor

	// LoadModelErr, if non-nil, is returned by LoadModel.
	LoadModelErr error

	// DownloadErr, if non-nil, is returned by DownloadModel.
	DownloadErr error

	// NewProcessorErr, if non-nil, is returned by NewProcessor.
	NewProcessorErr error

	// --- Call records ---

	// LoadModelCalls records every path passed to LoadModel.
	LoadModelCalls []string

	// DownloadCalls records every DownloadModel call.
	DownloadCalls []DownloadCall

	// NewProcessorCalls records every NewProcessor call.
	NewProcessorCalls []NewProcessorCall
}

// Version returns VersionValue.
func (r *Runtime) Version() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.VersionValue == "" {
		return "mock-1.0.0"
	}
	return r.VersionValue
}

// LoadModel records the call and returns Model, LoadModelErr.
func (r *Runtime) LoadModel(path string) (enhancer.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LoadModelCalls = append(r.LoadModelCalls, path)
	if r.LoadModelErr != nil {
		return nil, r.LoadModelErr
	}
	if r.Model != nil {
		return r.Model, nil
	}
	return &Model{IDValue: filepath.Base(path)}, nil
}

// DownloadModel records the call and returns dir/id.aicmodel, DownloadErr.
func (r *Runtime) DownloadModel(_ context.Context, id, dir string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DownloadCalls = append(r.DownloadCalls, DownloadCall{ID: id, Dir: dir})
	if r.DownloadErr != nil {
		return "", r.DownloadErr
	}
	return filepath.Join(dir, id+".aicmodel"), nil
}

// NewProcessor records the call and returns Processor, NewProcessorErr.
func (r *Runtime) NewProcessor(model enhancer.Model, license string) (enhancer.Processor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.NewProcessorCalls = append(r.NewProcessorCalls, NewProcessorCall{ModelID: model.ID(), License: license})
	if r.NewProcessorErr != nil {
		return nil, r.NewProcessorErr
	}
	if r.Processor != nil {
		return r.Processor, nil
	}
	return &Processor{}, nil
}

var _ enhancer.Runtime = (*Runtime)(nil)

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// Model is a mock implementation of enhancer.Model.
type Model struct {
	// IDValue is returned by ID.
	IDValue string

	// SampleRate is returned by OptimalSampleRate. Defaults to 48000.
	SampleRate uint32

	// FrameDuration is the block duration in seconds used by
	// OptimalNumFrames. Defaults to 0.01.
	FrameDuration float64

	// Err, if non-nil, is returned by OptimalSampleRate and OptimalNumFrames.
	Err error
}

// ID returns IDValue.
func (m *Model) ID() string { return m.IDValue }

// OptimalSampleRate returns SampleRate, Err.
func (m *Model) OptimalSampleRate() (uint32, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	if m.SampleRate == 0 {
		return 48000, nil
	}
	return m.SampleRate, nil
}

// OptimalNumFrames returns sampleRate * FrameDuration.
func (m *Model) OptimalNumFrames(sampleRate uint32) (int, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	if sampleRate == 0 {
		return 0, fmt.Errorf("mock: invalid sample rate %d", sampleRate)
	}
	d := m.FrameDuration
	if d == 0 {
		d = 0.01
	}
	return int(float64(sampleRate) * d), nil
}

var _ enhancer.Model = (*Model)(nil)

// ---------------------------------------------------------------------------
// Processor
// ---------------------------------------------------------------------------

// ProcessCall records a single processed block.
type ProcessCall struct {
	// Layout is "interleaved", "sequential" or "planar".
	Layout string

	// Channels holds the buffers handed to the engine. For interleaved and
	// sequential blocks it has a single element. The slice headers alias the
	// caller's memory; no sample data is copied.
	Channels [][]float32
}

// Processor is a mock implementation of enhancer.Processor.
//
// The zero value is ready to use.
type Processor struct {
	mu sync.Mutex

	// inflight counts callers currently inside any method. It is updated
	// before mu is taken so overlapping callers are detected even though mu
	// serialises them afterwards.
	inflight atomic.Int32

	// overlaps counts calls that started while another call was in flight.
	overlaps atomic.Int32

	// OutputDelayValue is returned by OutputDelay.
	OutputDelayValue int

	// SpeechDetected is returned by IsSpeechDetected.
	SpeechDetected bool

	// OnProcess, if non-nil, is called with the block buffers on every
	// successful process call. It may modify the samples in place.
	OnProcess func(channels [][]float32)

	// InitializeErr, if non-nil, is returned by Initialize.
	InitializeErr error

	// ProcessErr, if non-nil, is returned by every process call after the
	// block has been validated.
	ProcessErr error

	// ResetErr, if non-nil, is returned by Reset.
	ResetErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	cfg         enhancer.Config
	initialized bool
	params      map[enhancer.ProcessorParameter]float32
	vadParams   map[enhancer.VadParameter]float32

	// --- Call records ---

	// InitializeCalls records every Config passed to Initialize.
	InitializeCalls []enhancer.Config

	// ProcessCalls records every block that passed validation.
	ProcessCalls []ProcessCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

func (p *Processor) enter() {
	if p.inflight.Add(1) > 1 {
		p.overlaps.Add(1)
	}
	p.mu.Lock()
}

func (p *Processor) leave() {
	p.mu.Unlock()
	p.inflight.Add(-1)
}

// Overlaps returns how many calls started while another call was still in
// flight. A correctly serialised caller always sees zero.
func (p *Processor) Overlaps() int { return int(p.overlaps.Load()) }

// Initialize records cfg and, unless InitializeErr is set, makes it active.
func (p *Processor) Initialize(cfg enhancer.Config) error {
	p.enter()
	defer p.leave()
	p.InitializeCalls = append(p.InitializeCalls, cfg)
	if p.InitializeErr != nil {
		return p.InitializeErr
	}
	if cfg.SampleRate == 0 || cfg.NumChannels == 0 || cfg.NumFrames <= 0 {
		return fmt.Errorf("mock: unsupported config %s", cfg)
	}
	p.cfg = cfg
	p.initialized = true
	return nil
}

// ProcessInterleaved validates buf against the active config and records it.
func (p *Processor) ProcessInterleaved(buf []float32) error {
	return p.processFlat("interleaved", buf)
}

// ProcessSequential validates buf against the active config and records it.
func (p *Processor) ProcessSequential(buf []float32) error {
	return p.processFlat("sequential", buf)
}

func (p *Processor) processFlat(layout string, buf []float32) error {
	p.enter()
	defer p.leave()
	if !p.initialized {
		return enhancer.ErrNotInitialized
	}
	ch := int(p.cfg.NumChannels)
	if len(buf)%ch != 0 {
		return fmt.Errorf("mock: buffer length %d is not a multiple of %d channels", len(buf), ch)
	}
	if err := p.checkFrames(len(buf) / ch); err != nil {
		return err
	}
	return p.record(layout, [][]float32{buf})
}

// ProcessPlanar validates channels against the active config and records
// them.
func (p *Processor) ProcessPlanar(channels [][]float32) error {
	p.enter()
	defer p.leave()
	if !p.initialized {
		return enhancer.ErrNotInitialized
	}
	if len(channels) != int(p.cfg.NumChannels) {
		return fmt.Errorf("mock: got %d channels, expected %d", len(channels), p.cfg.NumChannels)
	}
	for _, c := range channels {
		if len(c) != len(channels[0]) {
			return fmt.Errorf("mock: channel lengths differ (%d vs %d)", len(c), len(channels[0]))
		}
	}
	if err := p.checkFrames(len(channels[0])); err != nil {
		return err
	}
	return p.record("planar", append([][]float32(nil), channels...))
}

func (p *Processor) checkFrames(frames int) error {
	if frames == p.cfg.NumFrames || (p.cfg.AllowVariableFrames && frames <= p.cfg.NumFrames) {
		return nil
	}
	return fmt.Errorf("mock: block has %d frames, expected %d", frames, p.cfg.NumFrames)
}

func (p *Processor) record(layout string, channels [][]float32) error {
	if p.ProcessErr != nil {
		return p.ProcessErr
	}
	p.ProcessCalls = append(p.ProcessCalls, ProcessCall{Layout: layout, Channels: channels})
	if p.OnProcess != nil {
		p.OnProcess(channels)
	}
	return nil
}

// Reset records the call. It fails before Initialize.
func (p *Processor) Reset() error {
	p.enter()
	defer p.leave()
	p.ResetCallCount++
	if !p.initialized {
		return enhancer.ErrNotInitialized
	}
	return p.ResetErr
}

// OutputDelay returns OutputDelayValue. It fails before Initialize.
func (p *Processor) OutputDelay() (int, error) {
	p.enter()
	defer p.leave()
	if !p.initialized {
		return 0, enhancer.ErrNotInitialized
	}
	return p.OutputDelayValue, nil
}

// SetParameter stores value after checking it against param's range.
func (p *Processor) SetParameter(param enhancer.ProcessorParameter, value float32) error {
	p.enter()
	defer p.leave()
	lo, hi, ok := param.Range()
	if !ok {
		return fmt.Errorf("mock: unknown parameter %s", param)
	}
	if value < lo || value > hi {
		return fmt.Errorf("%w: %s=%v not in [%v, %v]", ErrParameterRange, param, value, lo, hi)
	}
	if p.params == nil {
		p.params = make(map[enhancer.ProcessorParameter]float32)
	}
	p.params[param] = value
	return nil
}

// Parameter returns the stored value, or the parameter's default.
func (p *Processor) Parameter(param enhancer.ProcessorParameter) (float32, error) {
	p.enter()
	defer p.leave()
	if _, _, ok := param.Range(); !ok {
		return 0, fmt.Errorf("mock: unknown parameter %s", param)
	}
	if v, ok := p.params[param]; ok {
		return v, nil
	}
	return param.Default(), nil
}

// SetVadParameter stores value after checking it against param's range.
func (p *Processor) SetVadParameter(param enhancer.VadParameter, value float32) error {
	p.enter()
	defer p.leave()
	lo, hi, ok := param.Range()
	if !ok {
		return fmt.Errorf("mock: unknown VAD parameter %s", param)
	}
	if value < lo || value > hi {
		return fmt.Errorf("%w: %s=%v not in [%v, %v]", ErrParameterRange, param, value, lo, hi)
	}
	if p.vadParams == nil {
		p.vadParams = make(map[enhancer.VadParameter]float32)
	}
	p.vadParams[param] = value
	return nil
}

// VadParameter returns the stored value, or the parameter's default.
func (p *Processor) VadParameter(param enhancer.VadParameter) (float32, error) {
	p.enter()
	defer p.leave()
	if _, _, ok := param.Range(); !ok {
		return 0, fmt.Errorf("mock: unknown VAD parameter %s", param)
	}
	if v, ok := p.vadParams[param]; ok {
		return v, nil
	}
	return param.Default(), nil
}

// IsSpeechDetected returns SpeechDetected.
func (p *Processor) IsSpeechDetected() bool {
	p.enter()
	defer p.leave()
	return p.SpeechDetected
}

// Close records the call and returns CloseErr.
func (p *Processor) Close() error {
	p.enter()
	defer p.leave()
	p.CloseCallCount++
	return p.CloseErr
}

// Calls returns a snapshot of the recorded process calls. Thread-safe.
func (p *Processor) Calls() []ProcessCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProcessCall(nil), p.ProcessCalls...)
}

// ResetCalls clears all recorded call history. Thread-safe.
func (p *Processor) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InitializeCalls = nil
	p.ProcessCalls = nil
	p.ResetCallCount = 0
	p.CloseCallCount = 0
	p.overlaps.Store(0)
}

var _ enhancer.Processor = (*Processor)(nil)
