package core

// EventContext carries the payload of one event. Which fields are set
// depends on the code, see the comments on each code.
type EventContext struct {
	U16 [4]uint16
	I32 [4]int32
	F32 [4]float32
	Str string
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Keyboard key pressed. U16[0] = key code.
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02

	// Keyboard key released. U16[0] = key code.
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03

	// Mouse button pressed. U16[0] = button.
	EVENT_CODE_BUTTON_PRESSED SystemEventCode = 0x04

	// Mouse button released. U16[0] = button.
	EVENT_CODE_BUTTON_RELEASED SystemEventCode = 0x05

	// Mouse moved. I32[0] = x, I32[1] = y.
	EVENT_CODE_MOUSE_MOVED SystemEventCode = 0x06

	// Mouse wheel. I32[0] = z delta.
	EVENT_CODE_MOUSE_WHEEL SystemEventCode = 0x07

	// Resized/resolution changed from the OS. U16[0] = width, U16[1] = height.
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// The config file changed on disk and was parsed again. Str = path.
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x09

	// The GPU device was lost. Str = reason.
	EVENT_CODE_DEVICE_LOST SystemEventCode = 0x0A

	// The device and all device dependent resources were recreated.
	EVENT_CODE_DEVICE_RESTORED SystemEventCode = 0x0B

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 16384

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

/**
 * @brief Synchronous event dispatcher. Events are delivered on the
 * caller's goroutine in registration order.
 */
type EventBus struct {
	registered map[SystemEventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code. A
 * listener may only be registered once per code.
 * @returns true if the event is successfully registered; otherwise false.
 */
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if code < 0 || code >= MAX_MESSAGE_CODES || onEvent == nil {
		return false
	}
	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

// Unregister removes the listener for code. Returns false if it was not registered.
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 * @returns true if handled, otherwise false.
 */
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	for _, e := range b.registered[code] {
		if e.callback(code, sender, e.listener, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}

func (b *EventBus) Shutdown() {
	clear(b.registered)
}
