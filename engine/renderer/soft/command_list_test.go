package soft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

func TestReleasedCommandListIsUnusable(t *testing.T) {
	device := NewDevice(DefaultOptions())
	cl, err := device.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, cl.Close())
	require.NoError(t, device.Queue().ExecuteCommandLists(cl))

	cl.Release()
	assert.NotPanics(t, cl.Release)

	assert.ErrorIs(t, cl.Reset(), gpu.ErrInvalidCall)
	assert.ErrorIs(t, cl.Close(), gpu.ErrInvalidCall)
	assert.ErrorIs(t, device.Queue().ExecuteCommandLists(cl), gpu.ErrInvalidCall)
}

func TestRecordingAfterReleaseFails(t *testing.T) {
	device := NewDevice(DefaultOptions())
	cl, err := device.CreateCommandList()
	require.NoError(t, err)

	cl.Release()
	cl.Dispatch(1, 1, 1)
	list := cl.(*commandList)
	assert.ErrorIs(t, list.err, gpu.ErrInvalidCall)
	assert.Empty(t, list.ops)
}
