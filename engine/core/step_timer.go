package core

import "time"

// maxTimerDelta clamps the step after a debugger break or a long stall.
const maxTimerDelta = 100 * time.Millisecond

/**
 * @brief Variable timestep frame timer. Tick measures the time since the
 * previous Tick, runs the update callback once and keeps a per-second
 * frame counter for FPS display.
 */
type StepTimer struct {
	now func() time.Time

	last    time.Time
	elapsed time.Duration
	total   time.Duration

	frameCount       uint64
	framesThisSecond uint32
	secondCounter    time.Duration
	framesPerSecond  uint32
}

func NewStepTimer() *StepTimer {
	return NewStepTimerWithClock(time.Now)
}

// NewStepTimerWithClock uses now as the time source. Tests pass a fake clock.
func NewStepTimerWithClock(now func() time.Time) *StepTimer {
	return &StepTimer{
		now:  now,
		last: now(),
	}
}

// ResetElapsedTime drops the time accumulated since the last Tick, e.g. after a device reset.
func (t *StepTimer) ResetElapsedTime() {
	t.last = t.now()
	t.framesThisSecond = 0
	t.framesPerSecond = 0
	t.secondCounter = 0
}

func (t *StepTimer) Tick(update func(timer *StepTimer)) {
	current := t.now()
	delta := current.Sub(t.last)
	t.last = current

	if delta > maxTimerDelta {
		delta = maxTimerDelta
	}
	if delta < 0 {
		delta = 0
	}

	t.secondCounter += delta
	t.elapsed = delta
	t.total += delta
	t.frameCount++

	if update != nil {
		update(t)
	}

	t.framesThisSecond++
	if t.secondCounter >= time.Second {
		t.framesPerSecond = t.framesThisSecond
		t.framesThisSecond = 0
		t.secondCounter %= time.Second
	}
}

func (t *StepTimer) ElapsedSeconds() float64 {
	return t.elapsed.Seconds()
}

func (t *StepTimer) TotalSeconds() float64 {
	return t.total.Seconds()
}

func (t *StepTimer) FrameCount() uint64 {
	return t.frameCount
}

func (t *StepTimer) FramesPerSecond() uint32 {
	return t.framesPerSecond
}
