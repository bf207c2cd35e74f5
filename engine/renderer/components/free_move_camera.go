package components

import (
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
)

const (
	DefaultMoveSpeed        float32 = 10
	DefaultMouseSensitivity float32 = 0.001
)

/**
 * @brief A fly-through camera driven by keyboard and mouse. WASD move in
 * the view plane, E and Q move up and down along the camera's up axis.
 * Holding the right button puts the mouse in relative mode and turns the
 * camera. A left click shoots a ray through the cursor.
 */
type FreeMoveCamera struct {
	camera      *Camera
	Speed       float32
	Sensitivity float32

	active   bool
	relative bool
}

func NewFreeMoveCamera() *FreeMoveCamera {
	return &FreeMoveCamera{
		camera:      NewCamera(),
		Speed:       DefaultMoveSpeed,
		Sensitivity: DefaultMouseSensitivity,
		active:      true,
	}
}

func (fc *FreeMoveCamera) Camera() *Camera {
	return fc.camera
}

func (fc *FreeMoveCamera) SetPosition(position math.Vec3) {
	fc.camera.SetPosition(position)
}

func (fc *FreeMoveCamera) SetAspectRatio(aspect float32) {
	fc.camera.SetAspectRatio(aspect)
}

func (fc *FreeMoveCamera) Activate() {
	fc.active = true
	fc.relative = false
}

func (fc *FreeMoveCamera) Deactivate() {
	fc.active = false
	fc.relative = false
}

func (fc *FreeMoveCamera) IsActive() bool {
	return fc.active
}

// IsRelative reports whether mouse movement currently turns the camera.
func (fc *FreeMoveCamera) IsRelative() bool {
	return fc.relative
}

// Update applies one frame of input. Call it before input.Update().
func (fc *FreeMoveCamera) Update(elapsedSeconds float64, input *core.Input) {
	if !fc.active {
		return
	}

	if fc.relative {
		dx, dy := input.MouseDelta()
		yaw := -float32(dx) * fc.Sensitivity
		pitch := -float32(dy) * fc.Sensitivity
		if yaw != 0 || pitch != 0 {
			fc.camera.RotateYawPitch(yaw, pitch)
		}
	}

	right, up, forward := fc.camera.BasisVectors()
	translation := math.NewVec3Zero()
	if input.IsKeyDown(core.KEY_W) {
		translation = translation.Add(forward)
	}
	if input.IsKeyDown(core.KEY_A) {
		translation = translation.Sub(right)
	}
	if input.IsKeyDown(core.KEY_S) {
		translation = translation.Sub(forward)
	}
	if input.IsKeyDown(core.KEY_D) {
		translation = translation.Add(right)
	}
	if input.IsKeyDown(core.KEY_E) {
		translation = translation.Add(up)
	}
	if input.IsKeyDown(core.KEY_Q) {
		translation = translation.Sub(up)
	}
	if translation.LengthSquared() > 0 {
		step := fc.Speed * float32(elapsedSeconds)
		fc.camera.SetPosition(fc.camera.Position().Add(translation.Normalized().MulScalar(step)))
	}

	switch {
	case input.ButtonPressed(core.BUTTON_RIGHT):
		fc.relative = true
	case fc.relative && input.IsButtonUp(core.BUTTON_RIGHT):
		fc.relative = false
	}
}

/**
 * @brief Returns a world space ray through the cursor on the frame the
 * left button went down. Holding the button does not shoot again.
 */
func (fc *FreeMoveCamera) ShootRay(input *core.Input, width, height uint32) (math.Ray, bool) {
	if !fc.active || !input.ButtonPressed(core.BUTTON_LEFT) || width == 0 || height == 0 {
		return math.Ray{}, false
	}
	x, y := input.MousePosition()
	return fc.camera.ScreenToWorldRay(float32(x)+0.5, float32(y)+0.5, float32(width), float32(height)), true
}
