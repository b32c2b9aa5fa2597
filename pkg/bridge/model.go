package bridge

import (
	"context"

	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// Model is a loaded model definition. It is immutable after construction and
// may be shared read-only by any number of processors and goroutines.
type Model struct {
	inner enhancer.Model
}

// LoadModel loads the model file at path through rt.
func LoadModel(rt enhancer.Runtime, path string) (*Model, error) {
	if path == "" {
		return nil, &ArgumentError{Kind: "model path", Value: path}
	}
	m, err := rt.LoadModel(path)
	if err != nil {
		return nil, engineErr("load model", err)
	}
	return &Model{inner: m}, nil
}

// WrapModel adopts a model the caller already obtained from a runtime.
func WrapModel(m enhancer.Model) *Model {
	return &Model{inner: m}
}

// DownloadModel asks rt to fetch the model of the given type into dir and
// returns the path of the downloaded file.
func DownloadModel(ctx context.Context, rt enhancer.Runtime, model enhancer.ModelType, dir string) (string, error) {
	if _, err := DecodeModelType(model.String()); err != nil {
		return "", err
	}
	if dir == "" {
		return "", &ArgumentError{Kind: "download directory", Value: dir}
	}
	path, err := rt.DownloadModel(ctx, model.String(), dir)
	if err != nil {
		return "", engineErr("download model", err)
	}
	return path, nil
}

// ID returns the stable identifier of the loaded model.
func (m *Model) ID() string { return m.inner.ID() }

// OptimalSampleRate returns the sample rate the engine recommends for this
// model.
func (m *Model) OptimalSampleRate() (uint32, error) {
	sr, err := m.inner.OptimalSampleRate()
	return sr, engineErr("optimal sample rate", err)
}

// OptimalNumFrames returns the block length the engine recommends at
// sampleRate.
func (m *Model) OptimalNumFrames(sampleRate uint32) (int, error) {
	n, err := m.inner.OptimalNumFrames(sampleRate)
	return n, engineErr("optimal num frames", err)
}

// engineModel returns the wrapped engine model.
func (m *Model) engineModel() (enhancer.Model, error) {
	if m == nil || m.inner == nil {
		return nil, &ArgumentError{Kind: "model", Value: nil}
	}
	return m.inner, nil
}
