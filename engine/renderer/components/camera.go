package components

import (
	stdmath "math"

	"github.com/spaghettifunk/ember/engine/math"
)

const (
	DefaultFieldOfView float32 = stdmath.Pi / 3
	DefaultNearPlane   float32 = 0.1
	DefaultFarPlane    float32 = 1000

	// maxPitchCosine keeps the direction away from the poles, where the look-at basis degenerates.
	maxPitchCosine float32 = 0.99
)

/**
 * @brief A perspective camera defined by a position and a view direction.
 * View and projection are rebuilt lazily, only after something they
 * depend on has changed.
 */
type Camera struct {
	fieldOfView float32
	aspectRatio float32
	nearPlane   float32
	farPlane    float32

	position  math.Vec3
	direction math.Vec3

	/** @brief Internal flag used to determine when the matrices need to be rebuilt. */
	isDirty    bool
	view       math.Mat4
	projection math.Mat4
}

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

// Reset puts the camera at (0, 0, 5) looking down -Z with a 16:9 aspect ratio.
func (c *Camera) Reset() {
	c.fieldOfView = DefaultFieldOfView
	c.aspectRatio = 1920.0 / 1080.0
	c.nearPlane = DefaultNearPlane
	c.farPlane = DefaultFarPlane
	c.position = math.NewVec3(0, 0, 5)
	c.direction = math.NewVec3(0, 0, -1)
	c.isDirty = true
}

func (c *Camera) Position() math.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.position = position
	c.isDirty = true
}

// Direction is the normalized view direction.
func (c *Camera) Direction() math.Vec3 {
	return c.direction
}

func (c *Camera) SetDirection(direction math.Vec3) {
	if direction.LengthSquared() == 0 {
		return
	}
	c.direction = direction.Normalized()
	c.isDirty = true
}

func (c *Camera) SetFieldOfView(radians float32) {
	c.fieldOfView = radians
	c.isDirty = true
}

func (c *Camera) SetAspectRatio(aspect float32) {
	if aspect <= 0 {
		return
	}
	c.aspectRatio = aspect
	c.isDirty = true
}

func (c *Camera) AspectRatio() float32 {
	return c.aspectRatio
}

func (c *Camera) SetClipPlanes(near, far float32) {
	c.nearPlane = near
	c.farPlane = far
	c.isDirty = true
}

func (c *Camera) NearPlane() float32 { return c.nearPlane }

func (c *Camera) FarPlane() float32 { return c.farPlane }

/**
 * @brief Turns the view direction by yaw radians around +Y, then by
 * pitch radians around the camera's right axis. A pitch that would bring
 * the direction closer than maxPitchCosine to straight up or down is
 * dropped and only the yaw is applied.
 */
func (c *Camera) RotateYawPitch(yaw, pitch float32) {
	right, _, _ := c.BasisVectors()
	rotation := math.NewMat4AxisAngle(math.NewVec3UnitY(), yaw)
	if pitch != 0 {
		rotation = rotation.Mul(math.NewMat4AxisAngle(right, pitch))
	}

	direction := c.direction.TransformNormal(rotation).Normalized()
	if math.Abs(direction.Dot(math.NewVec3UnitY())) > maxPitchCosine {
		direction = c.direction.TransformNormal(math.NewMat4AxisAngle(math.NewVec3UnitY(), yaw)).Normalized()
	}
	c.direction = direction
	c.isDirty = true
}

// BasisVectors returns the right, up and forward axes of the camera in world space.
func (c *Camera) BasisVectors() (right, up, forward math.Vec3) {
	forward = c.direction
	right = forward.Cross(math.NewVec3UnitY()).Normalized()
	up = right.Cross(forward).Normalized()
	return right, up, forward
}

func (c *Camera) update() {
	if !c.isDirty {
		return
	}
	c.view = math.NewMat4LookAt(c.position, c.position.Add(c.direction), math.NewVec3UnitY())
	c.projection = math.NewMat4PerspectiveFov(c.fieldOfView, c.aspectRatio, c.nearPlane, c.farPlane)
	c.isDirty = false
}

func (c *Camera) View() math.Mat4 {
	c.update()
	return c.view
}

func (c *Camera) Projection() math.Mat4 {
	c.update()
	return c.projection
}

func (c *Camera) ViewProjection() math.Mat4 {
	c.update()
	return c.view.Mul(c.projection)
}

func (c *Camera) Frustum() math.Frustum {
	return math.MakeFrustum(c.View(), c.Projection())
}

/**
 * @brief Unprojects the pixel (x, y) of a width x height viewport into a
 * world space ray starting on the near plane.
 */
func (c *Camera) ScreenToWorldRay(x, y, width, height float32) math.Ray {
	ndcX := 2*x/width - 1
	ndcY := 1 - 2*y/height
	inverse := c.ViewProjection().Inverse()

	near := math.NewVec3(ndcX, ndcY, 0).TransformCoord(inverse)
	far := math.NewVec3(ndcX, ndcY, 1).TransformCoord(inverse)
	return math.NewRay(near, far.Sub(near))
}
