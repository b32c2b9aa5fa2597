// Package bridge exposes a speech enhancement + VAD engine to a host process.
//
// The bridge validates and decodes identifiers coming from the host
// ([DecodeProcessorParameter], [DecodeVadParameter], [DecodeModelType]), owns
// the mutable engine instance behind a mutex ([Processor]) and routes audio
// buffers in the three supported layouts (interleaved, sequential, planar)
// to the engine without copying sample data.
//
// Every Processor method is synchronous and safe for concurrent use. Calls on
// one Processor, and on the [ProcessorContext] and [VadContext] views created
// from it, are totally ordered by lock acquisition.
package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// State is the lifecycle state of a [Processor].
type State int

const (
	// StateUninitialized is the state after construction: parameters may be
	// read and written, but nothing may be processed.
	StateUninitialized State = iota

	// StateReady means Initialize succeeded at least once.
	StateReady

	// StateClosed means Close was called. Every further call fails.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Layout identifies the memory order of a processed block.
type Layout int

const (
	LayoutInterleaved Layout = iota
	LayoutSequential
	LayoutPlanar
)

// String returns the lower-case name of the layout.
func (l Layout) String() string {
	switch l {
	case LayoutInterleaved:
		return "interleaved"
	case LayoutSequential:
		return "sequential"
	case LayoutPlanar:
		return "planar"
	default:
		return "unknown"
	}
}

// op names the processing operation for errors.
func (l Layout) op() string {
	switch l {
	case LayoutInterleaved:
		return "process interleaved"
	case LayoutSequential:
		return "process sequential"
	default:
		return "process planar"
	}
}

// ParseLayout maps a lower-case layout name to a Layout.
func ParseLayout(name string) (Layout, error) {
	switch name {
	case "interleaved":
		return LayoutInterleaved, nil
	case "sequential":
		return LayoutSequential, nil
	case "planar":
		return LayoutPlanar, nil
	}
	return 0, &ArgumentError{Kind: "layout", Value: name}
}

// Observer receives a notification after every processed block and every
// parameter write. It is always called after the processor lock has been
// released, so an Observer may call back into the Processor.
type Observer interface {
	ObserveBlock(layout Layout, elapsed time.Duration, err error)
	ObserveParameterWrite(target string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveBlock(Layout, time.Duration, error) {}
func (nopObserver) ObserveParameterWrite(string, error)       {}

// Option configures a [Processor].
type Option func(*Processor)

// WithObserver installs o to receive block and parameter-write notifications.
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithLogger sets the host logger used for lifecycle events. Without it the
// processor logs nothing. The logger is only called with the lock released.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// Processor owns one engine instance and serialises every operation on it.
type Processor struct {
	model    *Model
	observer Observer
	log      *slog.Logger

	mu     sync.Mutex
	engine enhancer.Processor
	state  State
	cfg    enhancer.Config
	planar planarBinder
}

// NewProcessor creates an engine instance for model using the given license
// credential. It fails with an [*EngineError] when the engine rejects the
// license or the model.
func NewProcessor(rt enhancer.Runtime, model *Model, license string, opts ...Option) (*Processor, error) {
	em, err := model.engineModel()
	if err != nil {
		return nil, err
	}
	engine, err := rt.NewProcessor(em, license)
	if err != nil {
		return nil, engineErr("new processor", err)
	}

	p := &Processor{
		model:    model,
		observer: nopObserver{},
		log:      slog.New(slog.DiscardHandler),
		engine:   engine,
		state:    StateUninitialized,
	}
	for _, o := range opts {
		o(p)
	}
	p.log.Debug("processor created", "model", model.ID())
	return p, nil
}

// Model returns the model the processor was created from.
func (p *Processor) Model() *Model { return p.model }

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Config returns the active configuration. ok is false until Initialize has
// succeeded.
func (p *Processor) Config() (cfg enhancer.Config, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg, p.state == StateReady
}

// Initialize (re)configures the engine for cfg. On success the processor is
// Ready; on failure its previous state and configuration are kept.
func (p *Processor) Initialize(cfg enhancer.Config) error {
	p.mu.Lock()
	err := p.checkOpen("initialize")
	if err == nil {
		err = engineErr("initialize", p.engine.Initialize(cfg))
	}
	if err == nil {
		p.state = StateReady
		p.cfg = cfg
	}
	p.mu.Unlock()

	if err != nil {
		return err
	}
	p.log.Debug("processor initialized", "model", p.model.ID(), "config", cfg.String())
	return nil
}

// ProcessInterleaved processes one interleaved block in place. Length
// validation belongs to the engine.
func (p *Processor) ProcessInterleaved(buf []float32) error {
	return p.process(LayoutInterleaved, func(e enhancer.Processor) error {
		return engineErr("process interleaved", e.ProcessInterleaved(buf))
	})
}

// ProcessSequential processes one channel-major block in place.
func (p *Processor) ProcessSequential(buf []float32) error {
	return p.process(LayoutSequential, func(e enhancer.Processor) error {
		return engineErr("process sequential", e.ProcessSequential(buf))
	})
}

// ProcessPlanar processes one block given as one buffer per channel. More
// than [MaxChannels] channels fail with [ErrCapacityExceeded] and overlapping
// buffers fail with [ErrAliasedChannels]; in both cases no buffer is touched.
func (p *Processor) ProcessPlanar(channels [][]float32) error {
	if len(channels) > MaxChannels {
		err := &CapacityError{Count: len(channels), Max: MaxChannels}
		p.observer.ObserveBlock(LayoutPlanar, 0, err)
		return err
	}
	return p.process(LayoutPlanar, func(e enhancer.Processor) error {
		return p.planar.process(e, channels)
	})
}

// process runs fn against the engine under the lock and reports the outcome
// to the observer after the lock is released.
func (p *Processor) process(layout Layout, fn func(enhancer.Processor) error) error {
	p.mu.Lock()
	start := time.Now()
	err := p.checkReady(layout.op())
	if err == nil {
		err = fn(p.engine)
	}
	elapsed := time.Since(start)
	p.mu.Unlock()

	p.observer.ObserveBlock(layout, elapsed, err)
	return err
}

// Reset clears transient engine state while keeping the configuration. It is
// only legal once the processor is Ready.
func (p *Processor) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkReady("reset"); err != nil {
		return err
	}
	return engineErr("reset", p.engine.Reset())
}

// OutputDelay returns the algorithmic latency of the engine in samples.
func (p *Processor) OutputDelay() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkReady("output delay"); err != nil {
		return 0, err
	}
	d, err := p.engine.OutputDelay()
	return d, engineErr("output delay", err)
}

// SetParameter writes an enhancement parameter. The value is forwarded as-is;
// the engine owns the accepted range.
func (p *Processor) SetParameter(param enhancer.ProcessorParameter, value float32) error {
	p.mu.Lock()
	err := p.checkOpen("set parameter")
	if err == nil {
		err = engineErr("set parameter", p.engine.SetParameter(param, value))
	}
	p.mu.Unlock()

	p.observer.ObserveParameterWrite("processor", err)
	return err
}

// Parameter reads an enhancement parameter.
func (p *Processor) Parameter(param enhancer.ProcessorParameter) (float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkOpen("parameter"); err != nil {
		return 0, err
	}
	v, err := p.engine.Parameter(param)
	return v, engineErr("parameter", err)
}

// ProcessorContext returns a view over the enhancement subset of the engine
// state. The view shares this processor's lock and lifetime.
func (p *Processor) ProcessorContext() *ProcessorContext {
	return &ProcessorContext{owner: p}
}

// VadContext returns a view over the VAD subset of the engine state. The
// view shares this processor's lock and lifetime.
func (p *Processor) VadContext() *VadContext {
	return &VadContext{owner: p}
}

// Close releases the engine. Every later call on the processor or on any of
// its contexts fails with [ErrClosed]. Calling Close more than once is safe.
func (p *Processor) Close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosed
	err := p.engine.Close()
	p.mu.Unlock()

	p.log.Debug("processor closed", "model", p.model.ID(), "err", err)
	return engineErr("close", err)
}

// setVadParameter, vadParameter and speechDetected back the VadContext.

func (p *Processor) setVadParameter(param enhancer.VadParameter, value float32) error {
	p.mu.Lock()
	err := p.checkOpen("set VAD parameter")
	if err == nil {
		err = engineErr("set VAD parameter", p.engine.SetVadParameter(param, value))
	}
	p.mu.Unlock()

	p.observer.ObserveParameterWrite("vad", err)
	return err
}

func (p *Processor) vadParameter(param enhancer.VadParameter) (float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkOpen("VAD parameter"); err != nil {
		return 0, err
	}
	v, err := p.engine.VadParameter(param)
	return v, engineErr("VAD parameter", err)
}

func (p *Processor) speechDetected() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkOpen("is speech detected"); err != nil {
		return false, err
	}
	return p.engine.IsSpeechDetected(), nil
}

// checkOpen fails once the processor is closed. Must be called with p.mu held.
func (p *Processor) checkOpen(op string) error {
	if p.state == StateClosed {
		return &StateError{Op: op, State: p.state}
	}
	return nil
}

// checkReady fails unless the processor is Ready. Must be called with p.mu
// held.
func (p *Processor) checkReady(op string) error {
	if p.state != StateReady {
		return &StateError{Op: op, State: p.state}
	}
	return nil
}
