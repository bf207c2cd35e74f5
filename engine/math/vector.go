package math

// ------------------------------------------
// Vector 2
// ------------------------------------------

func NewVec2(x, y float32) Vec2 {
	return Vec2{X: x, Y: y}
}

func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{v.X + other.X, v.Y + other.Y}
}

func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{v.X - other.X, v.Y - other.Y}
}

func (v Vec2) MulScalar(s float32) Vec2 {
	return Vec2{v.X * s, v.Y * s}
}

// ------------------------------------------
// Vector 3
// ------------------------------------------

/**
 * @brief Creates and returns a new 3-element vector using the supplied values.
 */
func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func NewVec3Zero() Vec3 {
	return Vec3{}
}

func NewVec3One() Vec3 {
	return Vec3{1, 1, 1}
}

// NewVec3UnitY is world up.
func NewVec3UnitY() Vec3 {
	return Vec3{0, 1, 0}
}

// NewVec3Forward is -Z in the right-handed convention used everywhere here.
func NewVec3Forward() Vec3 {
	return Vec3{0, 0, -1}
}

func (v Vec3) ToVec4(w float32) Vec4 {
	return Vec4{v.X, v.Y, v.Z, w}
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

func (v Vec3) Mul(other Vec3) Vec3 {
	return Vec3{v.X * other.X, v.Y * other.Y, v.Z * other.Z}
}

func (v Vec3) MulScalar(scalar float32) Vec3 {
	return Vec3{v.X * scalar, v.Y * scalar, v.Z * scalar}
}

func (v Vec3) Negate() Vec3 {
	return Vec3{-v.X, -v.Y, -v.Z}
}

func (v Vec3) LengthSquared() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func (v Vec3) Length() float32 {
	return Sqrt(v.LengthSquared())
}

/**
 * @brief Returns a normalized copy of the supplied vector. The zero
 * vector is returned unchanged.
 */
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.MulScalar(1 / l)
}

func (v Vec3) Dot(other Vec3) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

/**
 * @brief Compares all elements of v and other and ensures the difference
 * is less than tolerance.
 */
func (v Vec3) Compare(other Vec3, tolerance float32) bool {
	return Abs(v.X-other.X) <= tolerance &&
		Abs(v.Y-other.Y) <= tolerance &&
		Abs(v.Z-other.Z) <= tolerance
}

func (v Vec3) Distance(other Vec3) float32 {
	return v.Sub(other).Length()
}

func (v Vec3) Min(other Vec3) Vec3 {
	return Vec3{min(v.X, other.X), min(v.Y, other.Y), min(v.Z, other.Z)}
}

func (v Vec3) Max(other Vec3) Vec3 {
	return Vec3{max(v.X, other.X), max(v.Y, other.Y), max(v.Z, other.Z)}
}

/**
 * @brief Transform v by m as a point (w = 1). No perspective divide.
 */
func (v Vec3) Transform(m Mat4) Vec3 {
	d := &m.Data
	return Vec3{
		X: v.X*d[0] + v.Y*d[4] + v.Z*d[8] + d[12],
		Y: v.X*d[1] + v.Y*d[5] + v.Z*d[9] + d[13],
		Z: v.X*d[2] + v.Y*d[6] + v.Z*d[10] + d[14],
	}
}

// TransformCoord transforms v as a point and divides by the resulting w.
func (v Vec3) TransformCoord(m Mat4) Vec3 {
	h := v.ToVec4(1).Transform(m)
	if h.W == 0 {
		return Vec3{h.X, h.Y, h.Z}
	}
	inv := 1 / h.W
	return Vec3{h.X * inv, h.Y * inv, h.Z * inv}
}

// TransformNormal transforms v as a direction (w = 0).
func (v Vec3) TransformNormal(m Mat4) Vec3 {
	d := &m.Data
	return Vec3{
		X: v.X*d[0] + v.Y*d[4] + v.Z*d[8],
		Y: v.X*d[1] + v.Y*d[5] + v.Z*d[9],
		Z: v.X*d[2] + v.Y*d[6] + v.Z*d[10],
	}
}

// ------------------------------------------
// Vector 4
// ------------------------------------------

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

func (v Vec4) ToVec3() Vec3 {
	return Vec3{v.X, v.Y, v.Z}
}

func (v Vec4) Add(other Vec4) Vec4 {
	return Vec4{v.X + other.X, v.Y + other.Y, v.Z + other.Z, v.W + other.W}
}

func (v Vec4) MulScalar(s float32) Vec4 {
	return Vec4{v.X * s, v.Y * s, v.Z * s, v.W * s}
}

func (v Vec4) Dot(other Vec4) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z + v.W*other.W
}

func (v Vec4) Transform(m Mat4) Vec4 {
	d := &m.Data
	return Vec4{
		X: v.X*d[0] + v.Y*d[4] + v.Z*d[8] + v.W*d[12],
		Y: v.X*d[1] + v.Y*d[5] + v.Z*d[9] + v.W*d[13],
		Z: v.X*d[2] + v.Y*d[6] + v.Z*d[10] + v.W*d[14],
		W: v.X*d[3] + v.Y*d[7] + v.Z*d[11] + v.W*d[15],
	}
}
