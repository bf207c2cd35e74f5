package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStepTimerCountsFramesPerSecond(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	timer := NewStepTimerWithClock(clock.now)

	updates := 0
	for i := 0; i < 50; i++ {
		clock.advance(20 * time.Millisecond)
		timer.Tick(func(st *StepTimer) {
			updates++
			assert.InDelta(t, 0.02, st.ElapsedSeconds(), 1e-9)
		})
	}

	assert.Equal(t, 50, updates)
	assert.Equal(t, uint64(50), timer.FrameCount())
	assert.InDelta(t, 1.0, timer.TotalSeconds(), 1e-9)
	assert.Equal(t, uint32(50), timer.FramesPerSecond())
}

func TestStepTimerClampsLongStalls(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	timer := NewStepTimerWithClock(clock.now)

	clock.advance(5 * time.Second)
	timer.Tick(nil)
	assert.InDelta(t, maxTimerDelta.Seconds(), timer.ElapsedSeconds(), 1e-9)
}

func TestEventBusDeliversUntilHandled(t *testing.T) {
	bus := NewEventBus()
	var got []string

	first := "first"
	second := "second"
	require.True(t, bus.Register(EVENT_CODE_RESIZED, first, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		got = append(got, listener.(string))
		return data.U16[0] == 0
	}))
	require.True(t, bus.Register(EVENT_CODE_RESIZED, second, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		got = append(got, listener.(string))
		return true
	}))
	assert.False(t, bus.Register(EVENT_CODE_RESIZED, first, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }))

	assert.True(t, bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{U16: [4]uint16{1920, 1080}}))
	assert.Equal(t, []string{"first", "second"}, got)

	got = nil
	assert.True(t, bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{}))
	assert.Equal(t, []string{"first"}, got)

	assert.True(t, bus.Unregister(EVENT_CODE_RESIZED, first))
	assert.False(t, bus.Unregister(EVENT_CODE_RESIZED, first))
	assert.False(t, bus.Fire(EVENT_CODE_KEY_PRESSED, nil, EventContext{}))
}

func TestInputEdges(t *testing.T) {
	bus := NewEventBus()
	presses := 0
	bus.Register(EVENT_CODE_BUTTON_PRESSED, "t", func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		presses++
		return true
	})
	in := NewInput(bus)

	in.ProcessButton(BUTTON_LEFT, true)
	in.ProcessButton(BUTTON_LEFT, true)
	assert.Equal(t, 1, presses)
	assert.True(t, in.ButtonPressed(BUTTON_LEFT))

	in.Update()
	assert.True(t, in.IsButtonDown(BUTTON_LEFT))
	assert.False(t, in.ButtonPressed(BUTTON_LEFT))

	in.ProcessKey(KEY_W, true)
	assert.True(t, in.IsKeyDown(KEY_W))
	assert.True(t, in.WasKeyUp(KEY_W))

	in.ProcessMouseMove(10, 20)
	dx, dy := in.MouseDelta()
	assert.Equal(t, int32(10), dx)
	assert.Equal(t, int32(20), dy)
}

func TestMetricsAverages(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 1e-6)
}

func TestConfigWatcherLatchesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ember.toml")
	require.NoError(t, os.WriteFile(path, []byte("LogLevel = \"info\"\n"), 0o644))

	bus := NewEventBus()
	reloads := 0
	cw, err := NewConfigWatcher(path, bus, func(string) error {
		reloads++
		return nil
	})
	require.NoError(t, err)
	defer cw.Close()

	fired := false
	bus.Register(EVENT_CODE_CONFIG_RELOADED, "t", func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		fired = true
		return true
	})

	require.NoError(t, os.WriteFile(path, []byte("LogLevel = \"debug\"\n"), 0o644))
	require.Eventually(t, cw.pending.Load, 5*time.Second, 10*time.Millisecond)

	assert.True(t, cw.Poll())
	assert.Equal(t, 1, reloads)
	assert.True(t, fired)
	assert.False(t, cw.Poll())
}

func TestConfigWatcherCloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.toml")
	require.NoError(t, os.WriteFile(path, []byte("LogLevel = \"info\"\n"), 0o644))

	cw, err := NewConfigWatcher(path, nil, func(string) error { return nil })
	require.NoError(t, err)

	first := cw.Close()
	assert.NotPanics(t, func() { assert.Equal(t, first, cw.Close()) })
	assert.False(t, cw.Poll())
}

func TestSetLogLevel(t *testing.T) {
	assert.NoError(t, SetLogLevel("debug"))
	assert.Error(t, SetLogLevel("loud"))
	assert.NoError(t, SetLogLevel("info"))
}
