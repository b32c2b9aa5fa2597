package bridge_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/voxbridge/pkg/bridge"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

var stereo480 = enhancer.Config{SampleRate: 48000, NumChannels: 2, NumFrames: 480}

func newProcessor(t *testing.T, opts ...bridge.Option) (*bridge.Processor, *mock.Processor) {
	t.Helper()
	eng := &mock.Processor{}
	rt := &mock.Runtime{Processor: eng}
	m, err := bridge.LoadModel(rt, "/models/quail-l-48.aicmodel")
	require.NoError(t, err)
	p, err := bridge.NewProcessor(rt, m, "license", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, eng
}

func newReadyProcessor(t *testing.T, opts ...bridge.Option) (*bridge.Processor, *mock.Processor) {
	t.Helper()
	p, eng := newProcessor(t, opts...)
	require.NoError(t, p.Initialize(stereo480))
	return p, eng
}

func planarBlock(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out
}

type recordedBlock struct {
	layout bridge.Layout
	err    error
}

type recordingObserver struct {
	mu     sync.Mutex
	blocks []recordedBlock
	writes []string

	// onBlock, if set, runs inside ObserveBlock.
	onBlock func()
}

func (o *recordingObserver) ObserveBlock(layout bridge.Layout, _ time.Duration, err error) {
	if o.onBlock != nil {
		o.onBlock()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocks = append(o.blocks, recordedBlock{layout: layout, err: err})
}

func (o *recordingObserver) ObserveParameterWrite(target string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = append(o.writes, target)
}

// ── construction ─────────────────────────────────────────────────────────────

func TestNewProcessor_PassesModelAndLicense(t *testing.T) {
	t.Parallel()

	rt := &mock.Runtime{}
	m, err := bridge.LoadModel(rt, "/models/quail.aicmodel")
	require.NoError(t, err)

	p, err := bridge.NewProcessor(rt, m, "secret")
	require.NoError(t, err)
	defer p.Close()

	require.Len(t, rt.NewProcessorCalls, 1)
	assert.Equal(t, "quail.aicmodel", rt.NewProcessorCalls[0].ModelID)
	assert.Equal(t, "secret", rt.NewProcessorCalls[0].License)
	assert.Equal(t, bridge.StateUninitialized, p.State())
	assert.Same(t, m, p.Model())
}

func TestNewProcessor_EngineRejectsLicense(t *testing.T) {
	t.Parallel()

	rt := &mock.Runtime{NewProcessorErr: errors.New("license expired on 2026-01-01")}
	m, err := bridge.LoadModel(rt, "/models/quail.aicmodel")
	require.NoError(t, err)

	_, err = bridge.NewProcessor(rt, m, "stale")
	var ee *bridge.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "license expired on 2026-01-01", err.Error())
	assert.Equal(t, "engine", bridge.Kind(err))
}

func TestNewProcessor_NilModel(t *testing.T) {
	t.Parallel()

	_, err := bridge.NewProcessor(&mock.Runtime{}, nil, "license")
	assert.ErrorIs(t, err, bridge.ErrInvalidArgument)
}

// ── state machine ────────────────────────────────────────────────────────────

func TestProcessor_ProcessBeforeInitialize(t *testing.T) {
	t.Parallel()

	p, eng := newProcessor(t)

	assert.ErrorIs(t, p.ProcessInterleaved(make([]float32, 960)), bridge.ErrInvalidState)
	assert.ErrorIs(t, p.ProcessSequential(make([]float32, 960)), bridge.ErrInvalidState)
	assert.ErrorIs(t, p.ProcessPlanar(planarBlock(2, 480)), bridge.ErrInvalidState)
	assert.ErrorIs(t, p.Reset(), bridge.ErrInvalidState)
	_, err := p.OutputDelay()
	assert.ErrorIs(t, err, bridge.ErrInvalidState)

	assert.Empty(t, eng.Calls(), "engine must not see blocks before Initialize")
}

func TestProcessor_ParametersBeforeInitialize(t *testing.T) {
	t.Parallel()

	p, _ := newProcessor(t)

	require.NoError(t, p.SetParameter(enhancer.EnhancementLevel, 0.25))
	v, err := p.Parameter(enhancer.EnhancementLevel)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), v)

	vad := p.VadContext()
	require.NoError(t, vad.SetParameter(enhancer.Sensitivity, 9))
	got, err := vad.Parameter(enhancer.Sensitivity)
	require.NoError(t, err)
	assert.Equal(t, float32(9), got)

	speech, err := vad.IsSpeechDetected()
	require.NoError(t, err)
	assert.False(t, speech)
}

func TestProcessor_InitializeThenProcess(t *testing.T) {
	t.Parallel()

	p, eng := newReadyProcessor(t)

	assert.Equal(t, bridge.StateReady, p.State())
	cfg, ok := p.Config()
	assert.True(t, ok)
	assert.Equal(t, stereo480, cfg)

	require.NoError(t, p.ProcessInterleaved(make([]float32, 960)))
	require.NoError(t, p.ProcessSequential(make([]float32, 960)))
	require.NoError(t, p.ProcessPlanar(planarBlock(2, 480)))
	require.NoError(t, p.Reset())

	calls := eng.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "interleaved", calls[0].Layout)
	assert.Equal(t, "sequential", calls[1].Layout)
	assert.Equal(t, "planar", calls[2].Layout)
	assert.Equal(t, 1, eng.ResetCallCount)
}

func TestProcessor_FailedInitializeKeepsState(t *testing.T) {
	t.Parallel()

	p, eng := newProcessor(t)
	eng.InitializeErr = errors.New("unsupported sample rate 44100")

	err := p.Initialize(enhancer.Config{SampleRate: 44100, NumChannels: 1, NumFrames: 441})
	require.Error(t, err)
	assert.Equal(t, "unsupported sample rate 44100", err.Error())
	assert.Equal(t, bridge.StateUninitialized, p.State())

	eng.InitializeErr = nil
	require.NoError(t, p.Initialize(stereo480))

	eng.InitializeErr = errors.New("unsupported channel count 9")
	require.Error(t, p.Initialize(enhancer.Config{SampleRate: 48000, NumChannels: 9, NumFrames: 480}))
	assert.Equal(t, bridge.StateReady, p.State())
	cfg, _ := p.Config()
	assert.Equal(t, stereo480, cfg, "previous configuration must survive a failed re-initialize")
}

func TestProcessor_Reinitialize(t *testing.T) {
	t.Parallel()

	p, _ := newReadyProcessor(t)
	mono := enhancer.Config{SampleRate: 16000, NumChannels: 1, NumFrames: 160}
	require.NoError(t, p.Initialize(mono))

	require.NoError(t, p.ProcessInterleaved(make([]float32, 160)))
	assert.Error(t, p.ProcessInterleaved(make([]float32, 960)))
}

func TestProcessor_Close(t *testing.T) {
	t.Parallel()

	p, eng := newReadyProcessor(t)
	pctx := p.ProcessorContext()
	vctx := p.VadContext()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "Close must be idempotent")
	assert.Equal(t, 1, eng.CloseCallCount)
	assert.Equal(t, bridge.StateClosed, p.State())

	_, err := p.OutputDelay()
	checks := map[string]error{
		"Initialize":           p.Initialize(stereo480),
		"ProcessInterleaved":   p.ProcessInterleaved(make([]float32, 960)),
		"ProcessSequential":    p.ProcessSequential(make([]float32, 960)),
		"ProcessPlanar":        p.ProcessPlanar(planarBlock(2, 480)),
		"Reset":                p.Reset(),
		"OutputDelay":          err,
		"SetParameter":         p.SetParameter(enhancer.Bypass, 1),
		"ctx.Reset":            pctx.Reset(),
		"ctx.SetParameter":     pctx.SetParameter(enhancer.VoiceGain, 2),
		"vad.SetParameter":     vctx.SetParameter(enhancer.Sensitivity, 3),
		"vad.IsSpeechDetected": func() error { _, err := vctx.IsSpeechDetected(); return err }(),
		"vad.Parameter":        func() error { _, err := vctx.Parameter(enhancer.Sensitivity); return err }(),
		"ctx.Parameter":        func() error { _, err := pctx.Parameter(enhancer.Bypass); return err }(),
		"ctx.OutputDelay":      func() error { _, err := pctx.OutputDelay(); return err }(),
	}
	for name, err := range checks {
		assert.ErrorIs(t, err, bridge.ErrClosed, name)
		assert.ErrorIs(t, err, bridge.ErrInvalidState, name)
	}
	assert.Empty(t, eng.Calls())
}

func TestProcessor_CloseReportsEngineError(t *testing.T) {
	t.Parallel()

	p, eng := newProcessor(t)
	eng.CloseErr = errors.New("handle leak")

	err := p.Close()
	assert.EqualError(t, err, "handle leak")
	assert.Equal(t, bridge.StateClosed, p.State())
	assert.NoError(t, p.Close())
}

// ── block processing ─────────────────────────────────────────────────────────

func TestProcessor_BlockLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		process func(*bridge.Processor) error
		wantErr bool
	}{
		{"interleaved 960", func(p *bridge.Processor) error { return p.ProcessInterleaved(make([]float32, 960)) }, false},
		{"interleaved 959", func(p *bridge.Processor) error { return p.ProcessInterleaved(make([]float32, 959)) }, true},
		{"interleaved 962", func(p *bridge.Processor) error { return p.ProcessInterleaved(make([]float32, 962)) }, true},
		{"sequential 960", func(p *bridge.Processor) error { return p.ProcessSequential(make([]float32, 960)) }, false},
		{"sequential 959", func(p *bridge.Processor) error { return p.ProcessSequential(make([]float32, 959)) }, true},
		{"planar 2x480", func(p *bridge.Processor) error { return p.ProcessPlanar(planarBlock(2, 480)) }, false},
		{"planar 2x479", func(p *bridge.Processor) error { return p.ProcessPlanar(planarBlock(2, 479)) }, true},
		{"planar 3x480", func(p *bridge.Processor) error { return p.ProcessPlanar(planarBlock(3, 480)) }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, _ := newReadyProcessor(t)
			err := tc.process(p)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			var ee *bridge.EngineError
			require.ErrorAs(t, err, &ee, "length mismatches are reported by the engine")
			assert.Equal(t, "engine", bridge.Kind(err))
		})
	}
}

func TestProcessor_VariableFrames(t *testing.T) {
	t.Parallel()

	p, _ := newProcessor(t)
	require.NoError(t, p.Initialize(enhancer.Config{SampleRate: 48000, NumChannels: 2, NumFrames: 480, AllowVariableFrames: true}))

	assert.NoError(t, p.ProcessInterleaved(make([]float32, 2*100)))
	assert.Error(t, p.ProcessInterleaved(make([]float32, 2*481)))
}

func TestProcessor_InPlace(t *testing.T) {
	t.Parallel()

	p, eng := newReadyProcessor(t)
	eng.OnProcess = func(channels [][]float32) {
		for _, c := range channels {
			for i := range c {
				c[i] *= 2
			}
		}
	}

	inter := make([]float32, 960)
	for i := range inter {
		inter[i] = 0.25
	}
	require.NoError(t, p.ProcessInterleaved(inter))
	assert.Equal(t, float32(0.5), inter[0])
	assert.Equal(t, float32(0.5), inter[959])

	block := planarBlock(2, 480)
	block[1][7] = 0.125
	require.NoError(t, p.ProcessPlanar(block))
	assert.Equal(t, float32(0.25), block[1][7])

	calls := eng.Calls()
	require.Len(t, calls, 2)
	assert.Same(t, &inter[0], &calls[0].Channels[0][0], "engine must receive the caller's buffer")
	assert.Same(t, &block[1][0], &calls[1].Channels[1][0])
}

func TestProcessor_EngineProcessError(t *testing.T) {
	t.Parallel()

	p, eng := newReadyProcessor(t)
	eng.ProcessErr = errors.New("model inference failed")

	err := p.ProcessInterleaved(make([]float32, 960))
	var ee *bridge.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "process interleaved", ee.Op)
	assert.Equal(t, "model inference failed", err.Error())
	assert.Equal(t, bridge.StateReady, p.State())
}

// ── planar ───────────────────────────────────────────────────────────────────

func TestProcessPlanar_CapacityExceeded(t *testing.T) {
	t.Parallel()

	for _, ready := range []bool{false, true} {
		p, eng := newProcessor(t)
		if ready {
			require.NoError(t, p.Initialize(enhancer.Config{SampleRate: 48000, NumChannels: 16, NumFrames: 480}))
		}

		block := planarBlock(17, 480)
		for _, c := range block {
			for i := range c {
				c[i] = -7.5
			}
		}

		err := p.ProcessPlanar(block)
		require.ErrorIs(t, err, bridge.ErrCapacityExceeded)
		assert.ErrorIs(t, err, bridge.ErrInvalidArgument)
		assert.EqualError(t, err, "maximum 16 channels supported for planar processing, got 17")
		assert.Equal(t, "capacity_exceeded", bridge.Kind(err))

		for ch, c := range block {
			for i, s := range c {
				if s != -7.5 {
					t.Fatalf("ready=%v: block[%d][%d] = %v, want untouched sentinel", ready, ch, i, s)
				}
			}
		}
		assert.Empty(t, eng.Calls())
	}
}

func TestProcessPlanar_SixteenChannels(t *testing.T) {
	t.Parallel()

	p, eng := newProcessor(t)
	require.NoError(t, p.Initialize(enhancer.Config{SampleRate: 48000, NumChannels: 16, NumFrames: 480}))

	require.NoError(t, p.ProcessPlanar(planarBlock(16, 480)))
	require.Len(t, eng.Calls(), 1)
	assert.Len(t, eng.Calls()[0].Channels, 16)
}

func TestProcessPlanar_AliasedChannels(t *testing.T) {
	t.Parallel()

	backing := make([]float32, 960)

	tests := []struct {
		name    string
		block   [][]float32
		wantErr bool
	}{
		{"same buffer twice", [][]float32{backing[:480], backing[:480]}, true},
		{"partial overlap", [][]float32{backing[:480], backing[479:959]}, true},
		{"adjacent views", [][]float32{backing[:480], backing[480:]}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, eng := newReadyProcessor(t)
			err := p.ProcessPlanar(tc.block)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			var ae *bridge.AliasError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, 0, ae.First)
			assert.Equal(t, 1, ae.Second)
			assert.ErrorIs(t, err, bridge.ErrAliasedChannels)
			assert.ErrorIs(t, err, bridge.ErrInvalidArgument)
			assert.Empty(t, eng.Calls())
		})
	}
}

// ── contexts ─────────────────────────────────────────────────────────────────

func TestContexts_ShareState(t *testing.T) {
	t.Parallel()

	p, eng := newReadyProcessor(t)
	pctx := p.ProcessorContext()
	other := p.ProcessorContext()

	require.NoError(t, pctx.SetParameter(enhancer.VoiceGain, 2.5))
	v, err := p.Parameter(enhancer.VoiceGain)
	require.NoError(t, err)
	assert.Equal(t, float32(2.5), v)

	v, err = other.Parameter(enhancer.VoiceGain)
	require.NoError(t, err)
	assert.Equal(t, float32(2.5), v)

	require.NoError(t, p.SetParameter(enhancer.Bypass, 1))
	v, err = pctx.Parameter(enhancer.Bypass)
	require.NoError(t, err)
	assert.Equal(t, float32(1), v)

	eng.OutputDelayValue = 240
	d, err := pctx.OutputDelay()
	require.NoError(t, err)
	assert.Equal(t, 240, d)

	require.NoError(t, pctx.Reset())
	assert.Equal(t, 1, eng.ResetCallCount)
}

func TestVadContext_SpeechFlag(t *testing.T) {
	t.Parallel()

	p, eng := newReadyProcessor(t)
	vad := p.VadContext()

	speech, err := vad.IsSpeechDetected()
	require.NoError(t, err)
	assert.False(t, speech)

	eng.OnProcess = func([][]float32) { eng.SpeechDetected = true }
	require.NoError(t, p.ProcessInterleaved(make([]float32, 960)))

	speech, err = vad.IsSpeechDetected()
	require.NoError(t, err)
	assert.True(t, speech)
}

func TestContexts_EngineRejectsValue(t *testing.T) {
	t.Parallel()

	p, _ := newProcessor(t)

	err := p.ProcessorContext().SetParameter(enhancer.EnhancementLevel, 3)
	require.ErrorIs(t, err, mock.ErrParameterRange)
	assert.Equal(t, "engine", bridge.Kind(err))

	err = p.VadContext().SetParameter(enhancer.Sensitivity, 0)
	require.ErrorIs(t, err, mock.ErrParameterRange)
}

// ── concurrency ──────────────────────────────────────────────────────────────

func TestProcessor_ConcurrentAccessIsSerialised(t *testing.T) {
	t.Parallel()

	p, eng := newReadyProcessor(t)
	pctx := p.ProcessorContext()
	vctx := p.VadContext()

	values := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	var wg sync.WaitGroup
	for i, v := range values {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if i%2 == 0 {
					assert.NoError(t, pctx.SetParameter(enhancer.EnhancementLevel, v))
				} else {
					assert.NoError(t, p.SetParameter(enhancer.EnhancementLevel, v))
				}
				_, err := vctx.IsSpeechDetected()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]float32, 960)
		for range 100 {
			assert.NoError(t, p.ProcessInterleaved(buf))
		}
	}()
	wg.Wait()

	assert.Zero(t, eng.Overlaps(), "engine calls must never overlap")
	got, err := p.Parameter(enhancer.EnhancementLevel)
	require.NoError(t, err)
	assert.Contains(t, values, got)
}

func TestProcessor_ConcurrentClose(t *testing.T) {
	t.Parallel()

	p, eng := newReadyProcessor(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = p.Close()
		}()
		go func() {
			defer wg.Done()
			err := p.ProcessInterleaved(make([]float32, 960))
			if err != nil {
				assert.ErrorIs(t, err, bridge.ErrClosed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, eng.CloseCallCount)
	assert.Zero(t, eng.Overlaps())
}

// ── observer ─────────────────────────────────────────────────────────────────

func TestProcessor_Observer(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	p, _ := newReadyProcessor(t, bridge.WithObserver(obs))

	require.NoError(t, p.ProcessInterleaved(make([]float32, 960)))
	require.Error(t, p.ProcessSequential(make([]float32, 3)))
	require.Error(t, p.ProcessPlanar(planarBlock(17, 1)))
	require.NoError(t, p.SetParameter(enhancer.Bypass, 0))
	require.NoError(t, p.VadContext().SetParameter(enhancer.SpeechHoldDuration, 0.1))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.blocks, 3)
	assert.Equal(t, bridge.LayoutInterleaved, obs.blocks[0].layout)
	assert.NoError(t, obs.blocks[0].err)
	assert.Equal(t, bridge.LayoutSequential, obs.blocks[1].layout)
	assert.Error(t, obs.blocks[1].err)
	assert.ErrorIs(t, obs.blocks[2].err, bridge.ErrCapacityExceeded)
	assert.Equal(t, []string{"processor", "vad"}, obs.writes)
}

func TestProcessor_ObserverMayReenter(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	p, _ := newReadyProcessor(t, bridge.WithObserver(obs))
	obs.onBlock = func() { _, _ = p.VadContext().IsSpeechDetected() }

	done := make(chan error, 1)
	go func() { done <- p.ProcessInterleaved(make([]float32, 960)) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("observer callback deadlocked on the processor lock")
	}
}

// reentrantHandler calls onRecord for every log record, so a handler that
// queries the processor it is logging for can be exercised.
type reentrantHandler struct {
	mu       sync.Mutex
	onRecord func()
	messages []string
}

func (h *reentrantHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *reentrantHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	fn := h.onRecord
	h.messages = append(h.messages, r.Message)
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (h *reentrantHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *reentrantHandler) WithGroup(string) slog.Handler      { return h }

func TestProcessor_LoggerMayReenter(t *testing.T) {
	t.Parallel()

	h := &reentrantHandler{}
	p, _ := newProcessor(t, bridge.WithLogger(slog.New(h)))
	h.mu.Lock()
	h.onRecord = func() { _ = p.State() }
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		if err := p.Initialize(stereo480); err != nil {
			done <- err
			return
		}
		done <- p.Close()
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("log handler deadlocked on the processor lock")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Contains(t, h.messages, "processor initialized")
	assert.Contains(t, h.messages, "processor closed")
}

// ── layout names ─────────────────────────────────────────────────────────────

func TestParseLayout(t *testing.T) {
	t.Parallel()

	for _, l := range []bridge.Layout{bridge.LayoutInterleaved, bridge.LayoutSequential, bridge.LayoutPlanar} {
		got, err := bridge.ParseLayout(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := bridge.ParseLayout("Planar")
	assert.ErrorIs(t, err, bridge.ErrInvalidArgument)
}
