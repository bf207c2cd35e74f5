package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/ember/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

/**
 * @brief The GLFW window. Its callbacks feed the input state and fire
 * resize events, all from PumpMessages on the main thread.
 */
type Platform struct {
	window    *glfw.Window
	input     *core.Input
	bus       *core.EventBus
	startTime float64
}

func New(input *core.Input, bus *core.EventBus) *Platform {
	return &Platform{
		input: input,
		bus:   bus,
	}
}

func (p *Platform) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		core.LogError("failed to create window: %s", err)
		return fmt.Errorf("failed to create window: %w", err)
	}
	p.window = window

	p.window.SetKeyCallback(p.keyCallback)
	p.window.SetMouseButtonCallback(p.mouseButtonCallback)
	p.window.SetCursorPosCallback(p.cursorPosCallback)
	p.window.SetScrollCallback(p.scrollCallback)
	p.window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.window.SetPos(int(x), int(y))
	p.window.Show()

	p.startTime = glfw.GetTime()
	return nil
}

func (p *Platform) Shutdown() error {
	if p.window != nil {
		p.window.Destroy()
		p.window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. Returns false once the window should close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.window.ShouldClose()
}

func (p *Platform) Window() *glfw.Window {
	return p.window
}

// FramebufferSize is the drawable size in pixels.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// GetAbsoluteTime returns the seconds since Startup.
func (p *Platform) GetAbsoluteTime() float64 {
	return glfw.GetTime() - p.startTime
}

func (p *Platform) Sleep(ms float64) {
	core.SleepMilliseconds(ms)
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if action == glfw.Repeat {
		return
	}
	code, ok := translateKey(key)
	if !ok {
		return
	}
	p.input.ProcessKey(code, action == glfw.Press)
}

func (p *Platform) mouseButtonCallback(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
	var b core.Button
	switch button {
	case glfw.MouseButtonLeft:
		b = core.BUTTON_LEFT
	case glfw.MouseButtonRight:
		b = core.BUTTON_RIGHT
	case glfw.MouseButtonMiddle:
		b = core.BUTTON_MIDDLE
	default:
		return
	}
	p.input.ProcessButton(b, action == glfw.Press)
}

func (p *Platform) cursorPosCallback(w *glfw.Window, xpos, ypos float64) {
	p.input.ProcessMouseMove(int32(xpos), int32(ypos))
}

func (p *Platform) scrollCallback(w *glfw.Window, xoff, yoff float64) {
	p.input.ProcessMouseWheel(int32(yoff))
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.bus.Fire(core.EVENT_CODE_RESIZED, p, core.EventContext{U16: [4]uint16{uint16(width), uint16(height)}})
}

// translateKey maps GLFW keys to engine key codes. Letters, digits and space share their ASCII value.
func translateKey(key glfw.Key) (core.KeyCode, bool) {
	switch {
	case key >= glfw.KeyA && key <= glfw.KeyZ, key >= glfw.Key0 && key <= glfw.Key9, key == glfw.KeySpace:
		return core.KeyCode(key), true
	}
	switch key {
	case glfw.KeyEscape:
		return core.KEY_ESCAPE, true
	case glfw.KeyEnter:
		return core.KEY_ENTER, true
	case glfw.KeyTab:
		return core.KEY_TAB, true
	case glfw.KeyBackspace:
		return core.KEY_BACKSPACE, true
	case glfw.KeyLeftShift, glfw.KeyRightShift:
		return core.KEY_SHIFT, true
	case glfw.KeyPause:
		return core.KEY_PAUSE, true
	case glfw.KeyCapsLock:
		return core.KEY_CAPITAL, true
	case glfw.KeyPageUp:
		return core.KEY_PRIOR, true
	case glfw.KeyPageDown:
		return core.KEY_NEXT, true
	case glfw.KeyEnd:
		return core.KEY_END, true
	case glfw.KeyMinus:
		return core.KEY_MINUS, true
	case glfw.KeyPeriod:
		return core.KEY_PERIOD, true
	case glfw.KeySlash:
		return core.KEY_SLASH, true
	case glfw.KeyGraveAccent:
		return core.KEY_GRAVE, true
	}
	return 0, false
}
