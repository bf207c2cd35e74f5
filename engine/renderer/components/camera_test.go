package components

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
)

func TestCameraDefaults(t *testing.T) {
	c := NewCamera()
	assert.Equal(t, math.NewVec3(0, 0, 5), c.Position())
	assert.Equal(t, math.NewVec3(0, 0, -1), c.Direction())
	assert.Equal(t, DefaultNearPlane, c.NearPlane())
	assert.Equal(t, DefaultFarPlane, c.FarPlane())

	// the origin is in front of the camera
	assert.True(t, c.Frustum().Contains(math.NewVec3Zero()))
	assert.False(t, c.Frustum().Contains(math.NewVec3(0, 0, 10)))
}

func TestCameraMatricesFollowChanges(t *testing.T) {
	c := NewCamera()
	view := c.View()
	proj := c.Projection()

	c.SetPosition(math.NewVec3(1, 2, 3))
	assert.False(t, view.Compare(c.View(), 1e-6))
	assert.True(t, proj.Compare(c.Projection(), 1e-6))

	c.SetAspectRatio(1)
	assert.False(t, proj.Compare(c.Projection(), 1e-6))

	// invalid values are ignored
	c.SetAspectRatio(0)
	assert.Equal(t, float32(1), c.AspectRatio())
	c.SetDirection(math.NewVec3Zero())
	assert.Equal(t, math.NewVec3(0, 0, -1), c.Direction())
}

func TestRotateYawPitchClampsPitch(t *testing.T) {
	c := NewCamera()
	c.RotateYawPitch(0, 1.5)
	up := c.Direction().Dot(math.NewVec3UnitY())
	// the pitch would pass the limit and is dropped
	assert.InDelta(t, 0, up, 1e-5)

	c.RotateYawPitch(0, 0.5)
	assert.InDelta(t, 0.479, math.Abs(c.Direction().Dot(math.NewVec3UnitY())), 1e-3)
	assert.InDelta(t, 1, c.Direction().Length(), 1e-5)

	before := c.Direction().Dot(math.NewVec3UnitY())
	c.RotateYawPitch(1, 0)
	assert.InDelta(t, before, c.Direction().Dot(math.NewVec3UnitY()), 1e-5)
}

func TestScreenToWorldRayThroughCentre(t *testing.T) {
	c := NewCamera()
	c.SetAspectRatio(2)
	ray := c.ScreenToWorldRay(100, 50, 200, 100)

	assert.True(t, ray.Direction.Compare(math.NewVec3(0, 0, -1), 1e-4), "direction %v", ray.Direction)
	assert.InDelta(t, 5-DefaultNearPlane, ray.Origin.Z, 1e-3)
	assert.InDelta(t, 0, ray.DistanceToPoint(math.NewVec3Zero()), 1e-3)

	// the top left corner points up and to the left
	corner := c.ScreenToWorldRay(0, 0, 200, 100)
	assert.Less(t, corner.Direction.X, float32(0))
	assert.Greater(t, corner.Direction.Y, float32(0))
}

func TestFreeMoveCameraMoves(t *testing.T) {
	fc := NewFreeMoveCamera()
	in := core.NewInput(nil)

	in.ProcessKey(core.KEY_W, true)
	fc.Update(0.5, in)
	assert.True(t, fc.Camera().Position().Compare(math.NewVec3(0, 0, 0), 1e-4), "%v", fc.Camera().Position())
	in.Update()

	in.ProcessKey(core.KEY_W, false)
	in.ProcessKey(core.KEY_D, true)
	fc.Update(0.1, in)
	assert.True(t, fc.Camera().Position().Compare(math.NewVec3(1, 0, 0), 1e-4), "%v", fc.Camera().Position())
	in.Update()

	in.ProcessKey(core.KEY_D, false)
	in.ProcessKey(core.KEY_E, true)
	fc.Update(0.1, in)
	assert.True(t, fc.Camera().Position().Compare(math.NewVec3(1, 1, 0), 1e-4), "%v", fc.Camera().Position())

	fc.Deactivate()
	fc.Update(1, in)
	assert.True(t, fc.Camera().Position().Compare(math.NewVec3(1, 1, 0), 1e-4))
}

func TestFreeMoveCameraLooksWhileRightButtonHeld(t *testing.T) {
	fc := NewFreeMoveCamera()
	in := core.NewInput(nil)

	in.ProcessButton(core.BUTTON_RIGHT, true)
	fc.Update(0.016, in)
	require.True(t, fc.IsRelative())
	in.Update()

	before := fc.Camera().Direction()
	in.ProcessMouseMove(-200, 0)
	fc.Update(0.016, in)
	in.Update()
	after := fc.Camera().Direction()
	assert.False(t, before.Compare(after, 1e-5))
	// turning left around +Y from -Z swings towards -X
	assert.Less(t, after.X, float32(0))

	in.ProcessButton(core.BUTTON_RIGHT, false)
	fc.Update(0.016, in)
	assert.False(t, fc.IsRelative())
}

func TestShootRayOnlyOnPressEdge(t *testing.T) {
	fc := NewFreeMoveCamera()
	in := core.NewInput(nil)
	in.ProcessMouseMove(320, 240)
	in.Update()

	_, ok := fc.ShootRay(in, 640, 480)
	assert.False(t, ok)

	in.ProcessButton(core.BUTTON_LEFT, true)
	ray, ok := fc.ShootRay(in, 640, 480)
	require.True(t, ok)
	assert.Less(t, ray.Direction.Z, float32(-0.99))
	in.Update()

	// held, not pressed again
	_, ok = fc.ShootRay(in, 640, 480)
	assert.False(t, ok)

	_, ok = fc.ShootRay(in, 0, 480)
	assert.False(t, ok)
}
