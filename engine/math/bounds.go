package math

// Plane is the set of points p with Normal.Dot(p) + D == 0. Points with a
// positive DotCoordinate lie on the positive side.
type Plane struct {
	Normal Vec3
	D      float32
}

func NewPlaneFromPoints(p1, p2, p3 Vec3) Plane {
	n := p2.Sub(p1).Cross(p3.Sub(p1)).Normalized()
	return Plane{Normal: n, D: -n.Dot(p1)}
}

// PlaneFromPointsAndSide makes a plane through three points, oriented so that pointOnPositiveSide is in front of it.
func PlaneFromPointsAndSide(p1, p2, p3, pointOnPositiveSide Vec3) Plane {
	out := NewPlaneFromPoints(p1, p2, p3)
	if out.DotCoordinate(pointOnPositiveSide) < 0 {
		out = out.Negate()
	}
	return out.Normalized()
}

func (p Plane) DotCoordinate(point Vec3) float32 {
	return p.Normal.Dot(point) + p.D
}

func (p Plane) Negate() Plane {
	return Plane{Normal: p.Normal.Negate(), D: -p.D}
}

func (p Plane) Normalized() Plane {
	l := p.Normal.Length()
	if l == 0 {
		return p
	}
	return Plane{Normal: p.Normal.MulScalar(1 / l), D: p.D / l}
}

// Vec4 packs the plane as (nx, ny, nz, d) for constant buffers.
func (p Plane) Vec4() Vec4 {
	return Vec4{p.Normal.X, p.Normal.Y, p.Normal.Z, p.D}
}

// AABB is an axis aligned box stored as centre and half extents.
type AABB struct {
	Center  Vec3
	Extents Vec3
}

func NewAABBFromPoints(points ...Vec3) AABB {
	if len(points) == 0 {
		return AABB{}
	}
	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		lo = lo.Min(p)
		hi = hi.Max(p)
	}
	return AABB{
		Center:  lo.Add(hi).MulScalar(0.5),
		Extents: hi.Sub(lo).MulScalar(0.5),
	}
}

func (b AABB) Contains(p Vec3, tolerance float32) bool {
	d := p.Sub(b.Center)
	return Abs(d.X) <= b.Extents.X+tolerance &&
		Abs(d.Y) <= b.Extents.Y+tolerance &&
		Abs(d.Z) <= b.Extents.Z+tolerance
}

// boxOffsets gives the corner order shared by AABB and OBB: near face (+z) first, counter clockwise from bottom left, then the far face.
var boxOffsets = [8]Vec3{
	{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
	{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
}

const (
	cornerBottomLeftNear = iota
	cornerBottomRightNear
	cornerTopRightNear
	cornerTopLeftNear
	cornerBottomLeftFar
	cornerBottomRightFar
	cornerTopRightFar
	cornerTopLeftFar
)

/**
 * @brief Oriented bounding box. Axes are unit length and orthogonal,
 * Extents are the half sizes along each axis.
 */
type OBB struct {
	Center  Vec3
	Extents Vec3
	Axes    [3]Vec3
}

func NewOBBFromAABB(b AABB) OBB {
	return OBB{
		Center:  b.Center,
		Extents: b.Extents,
		Axes:    [3]Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

// Transform applies an affine transform. Scale is folded into the extents.
func (o OBB) Transform(m Mat4) OBB {
	out := OBB{Center: o.Center.Transform(m)}
	ext := [3]float32{o.Extents.X, o.Extents.Y, o.Extents.Z}
	for i, axis := range o.Axes {
		a := axis.TransformNormal(m)
		l := a.Length()
		if l > 0 {
			a = a.MulScalar(1 / l)
		}
		out.Axes[i] = a
		ext[i] *= l
	}
	out.Extents = Vec3{ext[0], ext[1], ext[2]}
	return out
}

func (o OBB) Corners() [8]Vec3 {
	var out [8]Vec3
	for i, off := range boxOffsets {
		p := o.Center
		p = p.Add(o.Axes[0].MulScalar(off.X * o.Extents.X))
		p = p.Add(o.Axes[1].MulScalar(off.Y * o.Extents.Y))
		p = p.Add(o.Axes[2].MulScalar(off.Z * o.Extents.Z))
		out[i] = p
	}
	return out
}

func (o OBB) Contains(p Vec3, tolerance float32) bool {
	d := p.Sub(o.Center)
	ext := [3]float32{o.Extents.X, o.Extents.Y, o.Extents.Z}
	for i, axis := range o.Axes {
		if Abs(d.Dot(axis)) > ext[i]+tolerance {
			return false
		}
	}
	return true
}

// Planes returns the six inward facing planes in the order Near, Far, Right, Left, Top, Bottom.
func (o OBB) Planes() [6]Plane {
	return planesFromCorners(o.Corners(), o.Center)
}

/**
 * @brief A view frustum stored by its eight world space corners, in the
 * same order as the box corners.
 */
type Frustum struct {
	Corners [8]Vec3
}

var ndcCorners = [8]Vec3{
	{-1, -1, 0}, {1, -1, 0}, {1, 1, 0}, {-1, 1, 0},
	{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
}

// MakeFrustum builds the world space frustum of a camera from its view and projection.
func MakeFrustum(view, proj Mat4) Frustum {
	invViewProj := view.Mul(proj).Inverse()
	f := Frustum{}
	for i, c := range ndcCorners {
		f.Corners[i] = c.TransformCoord(invViewProj)
	}
	return f
}

func (f Frustum) Centroid() Vec3 {
	c := Vec3{}
	for _, p := range f.Corners {
		c = c.Add(p)
	}
	return c.MulScalar(1.0 / 8.0)
}

// Planes returns the six inward facing planes in the order Near, Far, Right, Left, Top, Bottom.
func (f Frustum) Planes() [6]Plane {
	return planesFromCorners(f.Corners, f.Centroid())
}

func (f Frustum) Contains(p Vec3) bool {
	for _, pl := range f.Planes() {
		if pl.DotCoordinate(p) < 0 {
			return false
		}
	}
	return true
}

func planesFromCorners(c [8]Vec3, inside Vec3) [6]Plane {
	return [6]Plane{
		PlaneFromPointsAndSide(c[cornerBottomLeftNear], c[cornerBottomRightNear], c[cornerTopRightNear], inside),
		PlaneFromPointsAndSide(c[cornerBottomLeftFar], c[cornerBottomRightFar], c[cornerTopRightFar], inside),
		PlaneFromPointsAndSide(c[cornerBottomRightNear], c[cornerBottomRightFar], c[cornerTopRightFar], inside),
		PlaneFromPointsAndSide(c[cornerBottomLeftNear], c[cornerBottomLeftFar], c[cornerTopLeftFar], inside),
		PlaneFromPointsAndSide(c[cornerTopLeftNear], c[cornerTopRightNear], c[cornerTopRightFar], inside),
		PlaneFromPointsAndSide(c[cornerBottomLeftNear], c[cornerBottomRightNear], c[cornerBottomRightFar], inside),
	}
}

// Ray is a half line. Direction is kept normalized.
type Ray struct {
	Origin    Vec3
	Direction Vec3
}

func NewRay(origin, direction Vec3) Ray {
	return Ray{Origin: origin, Direction: direction.Normalized()}
}

// DistanceToPoint is the distance from p to the closest point on the ray.
func (r Ray) DistanceToPoint(p Vec3) float32 {
	t := p.Sub(r.Origin).Dot(r.Direction)
	if t < 0 {
		t = 0
	}
	return r.Origin.Add(r.Direction.MulScalar(t)).Distance(p)
}
