// Package reference provides a pure-Go enhancer.Runtime that needs no vendor
// SDK or license server.
//
// The reference engine does not enhance speech. Its processing stage applies
// the voice_gain parameter (or nothing when bypass is set) so that in-place
// buffer mutation stays observable, and its voice activity detection runs the
// WebRTC VAD over 10 ms frames of the first channel. The VAD decision is
// smoothed with the speech_hold_duration and minimum_speech_duration
// parameters; sensitivity selects the WebRTC aggressiveness mode.
//
// It exists so the bridge and the host API can run end to end on any machine,
// and as a behavioural baseline for integration tests.
package reference

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	webrtcvad "github.com/bytectlgo/webrtcvad-go"

	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// Version is the engine version reported by Runtime.Version.
const Version = "reference-1.0.0"

var (
	// ErrDownloadUnsupported is returned by DownloadModel: the reference
	// engine has no model registry.
	ErrDownloadUnsupported = errors.New("reference: model download is not supported")

	// ErrLicenseRequired is returned by NewProcessor for an empty license.
	ErrLicenseRequired = errors.New("reference: license key is required")

	// ErrClosed is returned by every Processor method after Close.
	ErrClosed = errors.New("reference: processor is closed")
)

// DefaultSampleRate is the optimal sample rate reported by models unless
// [WithOptimalSampleRate] selects another.
const DefaultSampleRate = 48000

// Runtime is the reference implementation of enhancer.Runtime.
type Runtime struct {
	sampleRate uint32
}

// Option configures a [Runtime].
type Option func(*Runtime)

// WithOptimalSampleRate sets the rate models report from OptimalSampleRate.
// Rates the VAD cannot run at (see [SupportedSampleRate]) are ignored.
func WithOptimalSampleRate(sr uint32) Option {
	return func(r *Runtime) {
		if SupportedSampleRate(sr) {
			r.sampleRate = sr
		}
	}
}

// New returns a reference Runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{sampleRate: DefaultSampleRate}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Version returns [Version].
func (*Runtime) Version() string { return Version }

// LoadModel accepts any existing regular file. The model ID is the file name
// without its extension.
func (r *Runtime) LoadModel(path string) (enhancer.Model, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reference: load model: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("reference: load model: %s is a directory", path)
	}
	base := filepath.Base(path)
	return &model{id: strings.TrimSuffix(base, filepath.Ext(base)), sampleRate: r.sampleRate}, nil
}

// DownloadModel always fails with [ErrDownloadUnsupported].
func (*Runtime) DownloadModel(context.Context, string, string) (string, error) {
	return "", ErrDownloadUnsupported
}

// NewProcessor creates a processor for m. The license is only checked for
// presence.
func (*Runtime) NewProcessor(m enhancer.Model, license string) (enhancer.Processor, error) {
	if strings.TrimSpace(license) == "" {
		return nil, ErrLicenseRequired
	}
	det, err := webrtcvad.New(sensitivityMode(enhancer.Sensitivity.Default()))
	if err != nil {
		return nil, fmt.Errorf("reference: create VAD: %w", err)
	}
	p := &processor{
		modelID: m.ID(),
		det:     det,
		params:  make(map[enhancer.ProcessorParameter]float32),
		vad:     make(map[enhancer.VadParameter]float32),
	}
	for _, k := range enhancer.ProcessorParameters() {
		p.params[k] = k.Default()
	}
	for _, k := range enhancer.VadParameters() {
		p.vad[k] = k.Default()
	}
	return p, nil
}

var _ enhancer.Runtime = (*Runtime)(nil)

type model struct {
	id         string
	sampleRate uint32
}

func (m *model) ID() string { return m.id }

func (m *model) OptimalSampleRate() (uint32, error) { return m.sampleRate, nil }

// OptimalNumFrames is one 10 ms VAD frame at sampleRate.
func (m *model) OptimalNumFrames(sampleRate uint32) (int, error) {
	if !SupportedSampleRate(sampleRate) {
		return 0, fmt.Errorf("reference: unsupported sample rate %d", sampleRate)
	}
	return int(sampleRate) / 100, nil
}

// SupportedSampleRate reports whether the WebRTC VAD accepts sr.
func SupportedSampleRate(sr uint32) bool {
	switch sr {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

// sensitivityMode maps sensitivity 1..15 onto WebRTC mode 3..0. Higher
// sensitivity means a less aggressive detector.
func sensitivityMode(sens float32) int {
	mode := 3 - int((sens-1)*4/15)
	return min(max(mode, 0), 3)
}

type processor struct {
	modelID string
	det     *webrtcvad.VAD
	closed  bool

	cfg         enhancer.Config
	initialized bool

	params map[enhancer.ProcessorParameter]float32
	vad    map[enhancer.VadParameter]float32

	// frame accumulates channel-0 samples as 16-bit LE PCM until a full
	// 10 ms VAD frame is available.
	frame    []byte
	frameLen int // bytes per VAD frame
	fill     int

	speechRun  float64 // seconds of uninterrupted raw speech
	silenceRun float64 // seconds of uninterrupted raw silence
	detected   bool
}

func (p *processor) Initialize(cfg enhancer.Config) error {
	if p.closed {
		return ErrClosed
	}
	if !SupportedSampleRate(cfg.SampleRate) {
		return fmt.Errorf("reference: unsupported sample rate %d", cfg.SampleRate)
	}
	if cfg.NumChannels == 0 {
		return errors.New("reference: number of channels must be positive")
	}
	if cfg.NumFrames <= 0 {
		return fmt.Errorf("reference: invalid number of frames %d", cfg.NumFrames)
	}
	p.cfg = cfg
	p.initialized = true
	p.frameLen = int(cfg.SampleRate) / 100 * 2
	if cap(p.frame) < p.frameLen {
		p.frame = make([]byte, p.frameLen)
	}
	p.frame = p.frame[:p.frameLen]
	p.clearDetector()
	return nil
}

func (p *processor) ProcessInterleaved(buf []float32) error {
	frames, err := p.flatFrames(buf)
	if err != nil {
		return err
	}
	ch := int(p.cfg.NumChannels)
	p.applyGain(buf)
	for i := 0; i < frames; i++ {
		if err := p.push(buf[i*ch]); err != nil {
			return err
		}
	}
	return nil
}

func (p *processor) ProcessSequential(buf []float32) error {
	frames, err := p.flatFrames(buf)
	if err != nil {
		return err
	}
	p.applyGain(buf)
	for _, s := range buf[:frames] {
		if err := p.push(s); err != nil {
			return err
		}
	}
	return nil
}

func (p *processor) ProcessPlanar(channels [][]float32) error {
	if err := p.ready(); err != nil {
		return err
	}
	if len(channels) != int(p.cfg.NumChannels) {
		return fmt.Errorf("reference: got %d channels, expected %d", len(channels), p.cfg.NumChannels)
	}
	frames := len(channels[0])
	for i, c := range channels {
		if len(c) != frames {
			return fmt.Errorf("reference: channel %d has %d frames, expected %d", i, len(c), frames)
		}
	}
	if err := p.checkFrames(frames); err != nil {
		return err
	}
	for _, c := range channels {
		p.applyGain(c)
	}
	for _, s := range channels[0] {
		if err := p.push(s); err != nil {
			return err
		}
	}
	return nil
}

// flatFrames validates a single-buffer block and returns its frame count.
func (p *processor) flatFrames(buf []float32) (int, error) {
	if err := p.ready(); err != nil {
		return 0, err
	}
	ch := int(p.cfg.NumChannels)
	if len(buf)%ch != 0 {
		return 0, fmt.Errorf("reference: buffer length %d is not a multiple of %d channels", len(buf), ch)
	}
	frames := len(buf) / ch
	return frames, p.checkFrames(frames)
}

func (p *processor) checkFrames(frames int) error {
	if frames == p.cfg.NumFrames || (p.cfg.AllowVariableFrames && frames > 0 && frames <= p.cfg.NumFrames) {
		return nil
	}
	return fmt.Errorf("reference: block has %d frames, expected %d", frames, p.cfg.NumFrames)
}

func (p *processor) ready() error {
	switch {
	case p.closed:
		return ErrClosed
	case !p.initialized:
		return enhancer.ErrNotInitialized
	}
	return nil
}

func (p *processor) applyGain(samples []float32) {
	if p.params[enhancer.Bypass] >= 0.5 {
		return
	}
	g := p.params[enhancer.VoiceGain]
	if g == 1 {
		return
	}
	for i, s := range samples {
		samples[i] = min(max(s*g, -1), 1)
	}
}

// push appends one sample to the VAD frame and runs the detector when the
// frame is full.
func (p *processor) push(s float32) error {
	v := int16(min(max(s, -1), 1) * 32767)
	binary.LittleEndian.PutUint16(p.frame[p.fill:], uint16(v))
	p.fill += 2
	if p.fill < p.frameLen {
		return nil
	}
	p.fill = 0

	speech, err := p.det.IsSpeech(p.frame, int(p.cfg.SampleRate))
	if err != nil {
		return fmt.Errorf("reference: vad: %w", err)
	}
	p.update(speech, 0.01)
	return nil
}

// update advances the smoothing state machine by one frame of dt seconds.
func (p *processor) update(speech bool, dt float64) {
	if speech {
		p.speechRun += dt
		p.silenceRun = 0
		if p.speechRun+1e-9 >= float64(p.vad[enhancer.MinimumSpeechDuration]) {
			p.detected = true
		}
		return
	}
	p.silenceRun += dt
	p.speechRun = 0
	if p.silenceRun > float64(p.vad[enhancer.SpeechHoldDuration])+1e-9 {
		p.detected = false
	}
}

func (p *processor) clearDetector() {
	p.fill = 0
	p.speechRun = 0
	p.silenceRun = 0
	p.detected = false
}

func (p *processor) Reset() error {
	if err := p.ready(); err != nil {
		return err
	}
	det, err := webrtcvad.New(sensitivityMode(p.vad[enhancer.Sensitivity]))
	if err != nil {
		return fmt.Errorf("reference: reset VAD: %w", err)
	}
	p.det = det
	p.clearDetector()
	return nil
}

func (p *processor) OutputDelay() (int, error) {
	if err := p.ready(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (p *processor) SetParameter(param enhancer.ProcessorParameter, value float32) error {
	if p.closed {
		return ErrClosed
	}
	lo, hi, ok := param.Range()
	if !ok {
		return fmt.Errorf("reference: unknown parameter %s", param)
	}
	if value < lo || value > hi {
		return fmt.Errorf("reference: %s must be in [%v, %v], got %v", param, lo, hi, value)
	}
	p.params[param] = value
	return nil
}

func (p *processor) Parameter(param enhancer.ProcessorParameter) (float32, error) {
	if p.closed {
		return 0, ErrClosed
	}
	v, ok := p.params[param]
	if !ok {
		return 0, fmt.Errorf("reference: unknown parameter %s", param)
	}
	return v, nil
}

func (p *processor) SetVadParameter(param enhancer.VadParameter, value float32) error {
	if p.closed {
		return ErrClosed
	}
	lo, hi, ok := param.Range()
	if !ok {
		return fmt.Errorf("reference: unknown VAD parameter %s", param)
	}
	if value < lo || value > hi {
		return fmt.Errorf("reference: %s must be in [%v, %v], got %v", param, lo, hi, value)
	}
	if param == enhancer.Sensitivity {
		if err := p.det.SetMode(sensitivityMode(value)); err != nil {
			return fmt.Errorf("reference: set VAD mode: %w", err)
		}
	}
	p.vad[param] = value
	return nil
}

func (p *processor) VadParameter(param enhancer.VadParameter) (float32, error) {
	if p.closed {
		return 0, ErrClosed
	}
	v, ok := p.vad[param]
	if !ok {
		return 0, fmt.Errorf("reference: unknown VAD parameter %s", param)
	}
	return v, nil
}

func (p *processor) IsSpeechDetected() bool { return p.detected }

func (p *processor) Close() error {
	p.closed = true
	p.det = nil
	return nil
}

var _ enhancer.Processor = (*processor)(nil)
