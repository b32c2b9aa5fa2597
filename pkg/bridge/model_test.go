package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/voxbridge/pkg/bridge"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer/mock"
)

func TestLoadModel(t *testing.T) {
	t.Parallel()

	rt := &mock.Runtime{Model: &mock.Model{IDValue: "quail-s-16", SampleRate: 16000}}
	m, err := bridge.LoadModel(rt, "/models/q.aicmodel")
	require.NoError(t, err)

	assert.Equal(t, "quail-s-16", m.ID())
	sr, err := m.OptimalSampleRate()
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), sr)

	n, err := m.OptimalNumFrames(48000)
	require.NoError(t, err)
	assert.Equal(t, 480, n)

	assert.Equal(t, []string{"/models/q.aicmodel"}, rt.LoadModelCalls)
}

func TestLoadModel_Errors(t *testing.T) {
	t.Parallel()

	_, err := bridge.LoadModel(&mock.Runtime{}, "")
	assert.ErrorIs(t, err, bridge.ErrInvalidArgument)

	rt := &mock.Runtime{LoadModelErr: errors.New("model file is corrupt")}
	_, err = bridge.LoadModel(rt, "/models/bad.aicmodel")
	var ee *bridge.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "model file is corrupt", err.Error())
}

func TestModel_EngineQueryError(t *testing.T) {
	t.Parallel()

	m := bridge.WrapModel(&mock.Model{IDValue: "x", Err: errors.New("not loaded")})
	_, err := m.OptimalSampleRate()
	assert.Equal(t, "engine", bridge.Kind(err))
	_, err = m.OptimalNumFrames(48000)
	assert.Equal(t, "engine", bridge.Kind(err))
}

func TestDownloadModel(t *testing.T) {
	t.Parallel()

	rt := &mock.Runtime{}
	path, err := bridge.DownloadModel(context.Background(), rt, enhancer.ModelQuailSttL16, "/var/models")
	require.NoError(t, err)
	assert.Equal(t, "/var/models/QuailSttL16.aicmodel", path)
	require.Len(t, rt.DownloadCalls, 1)
	assert.Equal(t, "QuailSttL16", rt.DownloadCalls[0].ID)

	_, err = bridge.DownloadModel(context.Background(), rt, "QuailHuge", "/var/models")
	assert.ErrorIs(t, err, bridge.ErrInvalidArgument)

	_, err = bridge.DownloadModel(context.Background(), rt, enhancer.ModelQuailL48, "")
	assert.ErrorIs(t, err, bridge.ErrInvalidArgument)
	assert.Len(t, rt.DownloadCalls, 1)

	rt.DownloadErr = errors.New("network unreachable")
	_, err = bridge.DownloadModel(context.Background(), rt, enhancer.ModelQuailL48, "/var/models")
	assert.EqualError(t, err, "network unreachable")
}
