package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/bridge"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// readLimit bounds one WebSocket message. It fits a 16 channel block of
// 8192 float32 frames.
const readLimit = bridge.MaxChannels * 8192 * 4

// Session is one streaming connection and the processor it owns.
//
// Text frames carry JSON control requests of the form
//
//	{"id": 7, "op": "set_parameter", "target": "vad", "code": 1, "value": 9}
//
// and are answered by one text frame {"id", "op", "ok", "value", "error",
// "kind"}. Supported ops are initialize, set_parameter, parameter, reset,
// output_delay, speech_detected, layout and state.
//
// Fields left out of an initialize request keep the value of the session's
// last successful initialize, or the server default before the first one.
//
// Binary frames carry one block of samples in the session's encoding and
// layout (interleaved f32le unless changed with the layout op). The processed
// block is sent back as a binary frame. A failed block is answered with a
// text frame carrying op "block". No error closes the socket.
type Session struct {
	id   uint64
	srv  *Server
	conn *websocket.Conn
	proc *bridge.Processor
	pctx *bridge.ProcessorContext
	vctx *bridge.VadContext
	log  *slog.Logger

	closeOnce sync.Once
	closing   atomic.Bool

	// Owned by the read loop.
	stream  enhancer.Config
	layout  bridge.Layout
	enc     audio.Encoding
	samples []float32
	out     []byte
	views   [bridge.MaxChannels][]float32
}

func newSession(srv *Server, conn *websocket.Conn, proc *bridge.Processor) *Session {
	conn.SetReadLimit(readLimit)
	return &Session{
		id:     srv.nextID.Add(1),
		srv:    srv,
		conn:   conn,
		proc:   proc,
		pctx:   proc.ProcessorContext(),
		vctx:   proc.VadContext(),
		log:    srv.log,
		layout: bridge.LayoutInterleaved,
		enc:    audio.Float32LE,
	}
}

// ID returns the server-unique session number.
func (s *Session) ID() uint64 { return s.id }

// Processor returns the processor owned by the session.
func (s *Session) Processor() *bridge.Processor { return s.proc }

// ApplyParameters writes proc and vad through the session's contexts. It is
// safe to call while the session is streaming.
func (s *Session) ApplyParameters(proc map[enhancer.ProcessorParameter]float32, vad map[enhancer.VadParameter]float32) error {
	var errs []error
	for k, v := range proc {
		if err := s.pctx.SetParameter(k, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	for k, v := range vad {
		if err := s.vctx.SetParameter(k, v); err != nil {
			errs = append(errs, fmt.Errorf("vad %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		_ = s.conn.Close(code, reason)
	})
}

func (s *Session) run(ctx context.Context, d Defaults) {
	ctx, span := observe.StartSpan(ctx, "stream",
		trace.WithAttributes(
			attribute.Int64("voxbridge.session", int64(s.id)),
			observe.Attr("voxbridge.model", s.proc.Model().ID()),
		),
	)
	s.log = observe.Logger(ctx).With("session", s.id)

	m := s.srv.metrics
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveProcessors.Add(ctx, 1)
	s.log.Info("session opened", "model", s.proc.Model().ID())

	s.setup(ctx, d)
	err := s.loop(ctx)
	if s.closing.Load() || isNormalClose(err) {
		err = nil
	}
	s.close(websocket.StatusNormalClosure, "")

	closeErr := s.proc.Close()
	m.ActiveProcessors.Add(ctx, -1)
	m.ActiveSessions.Add(ctx, -1)
	m.RecordBridgeError(ctx, closeErr)

	err = errors.Join(err, closeErr)
	observe.EndSpan(span, err)
	if err != nil {
		s.log.Warn("session closed with error", "err", err)
		return
	}
	s.log.Info("session closed")
}

// setup applies the server defaults. Failures are logged and leave the
// session usable; the client can still initialise it explicitly.
func (s *Session) setup(ctx context.Context, d Defaults) {
	s.stream = d.Stream
	if err := s.ApplyParameters(d.Processor, d.VAD); err != nil {
		s.log.Warn("default parameters rejected", "err", err)
	}
	if d.Stream.SampleRate == 0 {
		return
	}
	if err := s.proc.Initialize(d.Stream); err != nil {
		s.srv.metrics.RecordBridgeError(ctx, err)
		s.log.Warn("default initialize failed", "config", d.Stream.String(), "err", err)
	}
}

func (s *Session) loop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageText:
			err = wsjson.Write(ctx, s.conn, s.handleControl(ctx, data))
		case websocket.MessageBinary:
			err = s.handleBlock(ctx, data)
		}
		if err != nil {
			return err
		}
	}
}

// previewLen caps how much of a malformed control message is echoed back.
const previewLen = 64

// preview returns at most previewLen bytes of data as valid UTF-8, marking
// truncation with an ellipsis.
func preview(data []byte) string {
	if len(data) <= previewLen {
		return strings.ToValidUTF8(string(data), "\uFFFD")
	}
	return strings.ToValidUTF8(string(data[:previewLen]), "") + "…"
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// ── control messages ─────────────────────────────────────────────────────────

func (s *Session) handleControl(ctx context.Context, data []byte) response {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		err = &bridge.ArgumentError{Kind: "control message", Value: preview(data)}
		s.srv.metrics.RecordBridgeError(ctx, err)
		return failure(req, err)
	}

	_, span := observe.StartSpan(ctx, "stream "+req.Op)
	value, err := s.dispatch(req)
	observe.EndSpan(span, err)

	if err != nil {
		// Parameter writes reach the metrics through the processor observer.
		if req.Op != opSetParameter {
			s.srv.metrics.RecordBridgeError(ctx, err)
		}
		return failure(req, err)
	}
	return response{ID: req.ID, Op: req.Op, OK: true, Value: value}
}

func (s *Session) dispatch(req request) (any, error) {
	switch req.Op {
	case opInitialize:
		cfg := req.config(s.stream)
		if err := s.proc.Initialize(cfg); err != nil {
			return nil, err
		}
		s.stream = cfg
		s.log.Debug("session initialized", "config", cfg.String())
		return cfg.String(), nil

	case opSetParameter:
		if req.Value == nil {
			return nil, &bridge.ArgumentError{Kind: "parameter value", Value: nil}
		}
		switch req.target() {
		case targetProcessor:
			p, err := req.processorParameter()
			if err != nil {
				return nil, err
			}
			return nil, s.pctx.SetParameter(p, *req.Value)
		case targetVAD:
			p, err := req.vadParameter()
			if err != nil {
				return nil, err
			}
			return nil, s.vctx.SetParameter(p, *req.Value)
		}
		return nil, &bridge.ArgumentError{Kind: "parameter target", Value: req.Target}

	case opParameter:
		switch req.target() {
		case targetProcessor:
			p, err := req.processorParameter()
			if err != nil {
				return nil, err
			}
			return valueOf(s.pctx.Parameter(p))
		case targetVAD:
			p, err := req.vadParameter()
			if err != nil {
				return nil, err
			}
			return valueOf(s.vctx.Parameter(p))
		}
		return nil, &bridge.ArgumentError{Kind: "parameter target", Value: req.Target}

	case opReset:
		return nil, s.pctx.Reset()

	case opOutputDelay:
		return valueOf(s.pctx.OutputDelay())

	case opSpeechDetected:
		return valueOf(s.vctx.IsSpeechDetected())

	case opLayout:
		layout, err := bridge.ParseLayout(req.Layout)
		if err != nil {
			return nil, err
		}
		enc, err := audio.ParseEncoding(req.Encoding)
		if err != nil {
			return nil, &bridge.ArgumentError{Kind: "encoding", Value: req.Encoding}
		}
		s.layout, s.enc = layout, enc
		return map[string]string{"layout": layout.String(), "encoding": string(enc)}, nil

	case opState:
		return s.proc.State().String(), nil
	}
	return nil, &bridge.ArgumentError{Kind: "op", Value: req.Op}
}

func valueOf[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ── audio blocks ─────────────────────────────────────────────────────────────

func (s *Session) handleBlock(ctx context.Context, data []byte) error {
	samples, err := s.enc.Decode(s.samples, data)
	s.samples = samples
	if err != nil {
		err = &bridge.ArgumentError{Kind: "block of " + string(s.enc), Value: len(data)}
		s.srv.metrics.RecordBridgeError(ctx, err)
	} else {
		err = s.process(samples)
	}
	if err != nil {
		return wsjson.Write(ctx, s.conn, failure(request{Op: opBlock}, err))
	}

	s.out = s.enc.Encode(s.out[:0], samples)
	return s.conn.Write(ctx, websocket.MessageBinary, s.out)
}

func (s *Session) process(samples []float32) error {
	switch s.layout {
	case bridge.LayoutSequential:
		return s.proc.ProcessSequential(samples)
	case bridge.LayoutPlanar:
		channels := 1
		if cfg, ok := s.proc.Config(); ok {
			channels = int(cfg.NumChannels)
		}
		views, err := audio.SplitPlanar(s.views[:0], samples, channels)
		if err != nil {
			return &bridge.ArgumentError{Kind: "planar block length", Value: len(samples)}
		}
		return s.proc.ProcessPlanar(views)
	default:
		return s.proc.ProcessInterleaved(samples)
	}
}
