package reference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

func newTestProcessor(t *testing.T) *processor {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "quail-l-48.aicmodel")
	require.NoError(t, os.WriteFile(path, []byte("model"), 0o644))

	rt := New()
	m, err := rt.LoadModel(path)
	require.NoError(t, err)
	p, err := rt.NewProcessor(m, "license")
	require.NoError(t, err)
	return p.(*processor)
}

func TestRuntime_LoadModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "quail-s-16.aicmodel")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := New().LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "quail-s-16", m.ID())

	sr, err := m.OptimalSampleRate()
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), sr)

	n, err := m.OptimalNumFrames(16000)
	require.NoError(t, err)
	assert.Equal(t, 160, n)

	_, err = m.OptimalNumFrames(44100)
	assert.Error(t, err)

	_, err = New().LoadModel(filepath.Join(dir, "missing.aicmodel"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = New().LoadModel(dir)
	assert.Error(t, err)
}

func TestRuntime_OptimalSampleRateOption(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "quail-s-16.aicmodel")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	tests := []struct {
		name string
		rate uint32
		want uint32
	}{
		{"supported", 16000, 16000},
		{"unsupported ignored", 44100, DefaultSampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(WithOptimalSampleRate(tt.rate)).LoadModel(path)
			require.NoError(t, err)
			sr, err := m.OptimalSampleRate()
			require.NoError(t, err)
			assert.Equal(t, tt.want, sr)
		})
	}
}

func TestRuntime_DownloadAndLicense(t *testing.T) {
	t.Parallel()

	rt := New()
	assert.Equal(t, Version, rt.Version())

	_, err := rt.DownloadModel(t.Context(), "QuailL48", t.TempDir())
	assert.ErrorIs(t, err, ErrDownloadUnsupported)

	_, err = rt.NewProcessor(&model{id: "x"}, "  ")
	assert.ErrorIs(t, err, ErrLicenseRequired)
}

func TestProcessor_Initialize(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)

	assert.ErrorIs(t, p.ProcessInterleaved(make([]float32, 480)), enhancer.ErrNotInitialized)

	assert.Error(t, p.Initialize(enhancer.Config{SampleRate: 44100, NumChannels: 1, NumFrames: 441}))
	assert.Error(t, p.Initialize(enhancer.Config{SampleRate: 48000, NumChannels: 0, NumFrames: 480}))
	assert.Error(t, p.Initialize(enhancer.Config{SampleRate: 48000, NumChannels: 1, NumFrames: 0}))
	require.NoError(t, p.Initialize(enhancer.Config{SampleRate: 48000, NumChannels: 2, NumFrames: 480}))

	d, err := p.OutputDelay()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestProcessor_BlockLength(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	require.NoError(t, p.Initialize(enhancer.Config{SampleRate: 48000, NumChannels: 2, NumFrames: 480}))

	assert.NoError(t, p.ProcessInterleaved(make([]float32, 960)))
	assert.Error(t, p.ProcessInterleaved(make([]float32, 959)))
	assert.NoError(t, p.ProcessSequential(make([]float32, 960)))
	assert.Error(t, p.ProcessSequential(make([]float32, 958)))
	assert.NoError(t, p.ProcessPlanar([][]float32{make([]float32, 480), make([]float32, 480)}))
	assert.Error(t, p.ProcessPlanar([][]float32{make([]float32, 480), make([]float32, 479)}))
	assert.Error(t, p.ProcessPlanar([][]float32{make([]float32, 480)}))
}

func TestProcessor_GainAndBypass(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	require.NoError(t, p.Initialize(enhancer.Config{SampleRate: 16000, NumChannels: 1, NumFrames: 160}))

	buf := make([]float32, 160)
	for i := range buf {
		buf[i] = 0.1
	}
	require.NoError(t, p.ProcessInterleaved(buf))
	assert.Equal(t, float32(0.1), buf[0], "default gain is unity")

	require.NoError(t, p.SetParameter(enhancer.VoiceGain, 2))
	require.NoError(t, p.ProcessInterleaved(buf))
	assert.InDelta(t, 0.2, buf[0], 1e-6)

	require.NoError(t, p.SetParameter(enhancer.Bypass, 1))
	require.NoError(t, p.ProcessInterleaved(buf))
	assert.InDelta(t, 0.2, buf[0], 1e-6)

	require.NoError(t, p.SetParameter(enhancer.Bypass, 0))
	require.NoError(t, p.SetParameter(enhancer.VoiceGain, 4))
	require.NoError(t, p.ProcessInterleaved(buf))
	assert.Equal(t, float32(0.8), buf[0])
	require.NoError(t, p.ProcessInterleaved(buf))
	assert.Equal(t, float32(1), buf[0], "output is clamped to full scale")
}

func TestProcessor_Parameters(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)

	for _, k := range enhancer.ProcessorParameters() {
		v, err := p.Parameter(k)
		require.NoError(t, err)
		assert.Equal(t, k.Default(), v, k.String())
	}
	for _, k := range enhancer.VadParameters() {
		v, err := p.VadParameter(k)
		require.NoError(t, err)
		assert.Equal(t, k.Default(), v, k.String())
	}

	assert.Error(t, p.SetParameter(enhancer.EnhancementLevel, 1.5))
	assert.Error(t, p.SetParameter(enhancer.ProcessorParameter(42), 0))
	assert.Error(t, p.SetVadParameter(enhancer.Sensitivity, 16))
	_, err := p.VadParameter(enhancer.VadParameter(9))
	assert.Error(t, err)

	require.NoError(t, p.SetVadParameter(enhancer.Sensitivity, 15))
	v, err := p.VadParameter(enhancer.Sensitivity)
	require.NoError(t, err)
	assert.Equal(t, float32(15), v)
}

func TestSensitivityMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, sensitivityMode(1))
	assert.Equal(t, 2, sensitivityMode(6))
	assert.Equal(t, 0, sensitivityMode(15))
	assert.Equal(t, 3, sensitivityMode(-4))
	assert.Equal(t, 0, sensitivityMode(40))
}

func TestProcessor_SmoothingStateMachine(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	require.NoError(t, p.SetVadParameter(enhancer.MinimumSpeechDuration, 0.03))
	require.NoError(t, p.SetVadParameter(enhancer.SpeechHoldDuration, 0.02))

	p.update(true, 0.01)
	p.update(true, 0.01)
	assert.False(t, p.IsSpeechDetected(), "20 ms of speech is below the 30 ms minimum")
	p.update(true, 0.01)
	assert.True(t, p.IsSpeechDetected())

	p.update(false, 0.01)
	p.update(false, 0.01)
	assert.True(t, p.IsSpeechDetected(), "hold keeps the flag for 20 ms")
	p.update(false, 0.01)
	assert.False(t, p.IsSpeechDetected())

	p.update(true, 0.01)
	p.update(false, 0.01)
	p.update(true, 0.01)
	assert.False(t, p.IsSpeechDetected(), "interrupted speech restarts the minimum")
}

func TestProcessor_SilenceIsNotSpeech(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	require.NoError(t, p.Initialize(enhancer.Config{SampleRate: 48000, NumChannels: 2, NumFrames: 480}))

	block := make([]float32, 960)
	for range 20 {
		require.NoError(t, p.ProcessInterleaved(block))
	}
	assert.False(t, p.IsSpeechDetected())
}

func TestProcessor_ResetAndClose(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	assert.ErrorIs(t, p.Reset(), enhancer.ErrNotInitialized)

	require.NoError(t, p.Initialize(enhancer.Config{SampleRate: 8000, NumChannels: 1, NumFrames: 80}))
	p.detected = true
	require.NoError(t, p.Reset())
	assert.False(t, p.IsSpeechDetected())

	require.NoError(t, p.Close())
	for _, err := range []error{
		p.Reset(),
		p.ProcessInterleaved(make([]float32, 80)),
		p.SetParameter(enhancer.Bypass, 1),
		p.SetVadParameter(enhancer.Sensitivity, 2),
		p.Initialize(enhancer.Config{SampleRate: 8000, NumChannels: 1, NumFrames: 80}),
	} {
		assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
	}
}
