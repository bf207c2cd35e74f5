package math

/**
 * @brief Creates and returns an identity matrix:
 *
 * {
 *   {1, 0, 0, 0},
 *   {0, 1, 0, 0},
 *   {0, 0, 1, 0},
 *   {0, 0, 0, 1}
 * }
 */
func NewMat4Identity() Mat4 {
	out := Mat4{}
	out.Data[0] = 1.0
	out.Data[5] = 1.0
	out.Data[10] = 1.0
	out.Data[15] = 1.0
	return out
}

// Mul returns mt * other. With row vectors, mt is applied first.
func (mt Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			sum := float32(0)
			for i := 0; i < 4; i++ {
				sum += mt.Data[row*4+i] * other.Data[i*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

/**
 * @brief Returns a transposed copy of the provided matrix (rows->colums).
 * Constant buffers are uploaded transposed so shaders can use column vectors.
 */
func (mt Mat4) Transposed() Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			out.Data[col*4+row] = mt.Data[row*4+col]
		}
	}
	return out
}

/**
 * @brief Creates and returns an inverse of the provided matrix. A
 * singular matrix yields the zero matrix and ok == false.
 */
func (mt Mat4) InverseOK() (Mat4, bool) {
	m := &mt.Data
	var inv [16]float32

	inv[0] = m[5]*m[10]*m[15] - m[5]*m[11]*m[14] - m[9]*m[6]*m[15] + m[9]*m[7]*m[14] + m[13]*m[6]*m[11] - m[13]*m[7]*m[10]
	inv[4] = -m[4]*m[10]*m[15] + m[4]*m[11]*m[14] + m[8]*m[6]*m[15] - m[8]*m[7]*m[14] - m[12]*m[6]*m[11] + m[12]*m[7]*m[10]
	inv[8] = m[4]*m[9]*m[15] - m[4]*m[11]*m[13] - m[8]*m[5]*m[15] + m[8]*m[7]*m[13] + m[12]*m[5]*m[11] - m[12]*m[7]*m[9]
	inv[12] = -m[4]*m[9]*m[14] + m[4]*m[10]*m[13] + m[8]*m[5]*m[14] - m[8]*m[6]*m[13] - m[12]*m[5]*m[10] + m[12]*m[6]*m[9]
	inv[1] = -m[1]*m[10]*m[15] + m[1]*m[11]*m[14] + m[9]*m[2]*m[15] - m[9]*m[3]*m[14] - m[13]*m[2]*m[11] + m[13]*m[3]*m[10]
	inv[5] = m[0]*m[10]*m[15] - m[0]*m[11]*m[14] - m[8]*m[2]*m[15] + m[8]*m[3]*m[14] + m[12]*m[2]*m[11] - m[12]*m[3]*m[10]
	inv[9] = -m[0]*m[9]*m[15] + m[0]*m[11]*m[13] + m[8]*m[1]*m[15] - m[8]*m[3]*m[13] - m[12]*m[1]*m[11] + m[12]*m[3]*m[9]
	inv[13] = m[0]*m[9]*m[14] - m[0]*m[10]*m[13] - m[8]*m[1]*m[14] + m[8]*m[2]*m[13] + m[12]*m[1]*m[10] - m[12]*m[2]*m[9]
	inv[2] = m[1]*m[6]*m[15] - m[1]*m[7]*m[14] - m[5]*m[2]*m[15] + m[5]*m[3]*m[14] + m[13]*m[2]*m[7] - m[13]*m[3]*m[6]
	inv[6] = -m[0]*m[6]*m[15] + m[0]*m[7]*m[14] + m[4]*m[2]*m[15] - m[4]*m[3]*m[14] - m[12]*m[2]*m[7] + m[12]*m[3]*m[6]
	inv[10] = m[0]*m[5]*m[15] - m[0]*m[7]*m[13] - m[4]*m[1]*m[15] + m[4]*m[3]*m[13] + m[12]*m[1]*m[7] - m[12]*m[3]*m[5]
	inv[14] = -m[0]*m[5]*m[14] + m[0]*m[6]*m[13] + m[4]*m[1]*m[14] - m[4]*m[2]*m[13] - m[12]*m[1]*m[6] + m[12]*m[2]*m[5]
	inv[3] = -m[1]*m[6]*m[11] + m[1]*m[7]*m[10] + m[5]*m[2]*m[11] - m[5]*m[3]*m[10] - m[9]*m[2]*m[7] + m[9]*m[3]*m[6]
	inv[7] = m[0]*m[6]*m[11] - m[0]*m[7]*m[10] - m[4]*m[2]*m[11] + m[4]*m[3]*m[10] + m[8]*m[2]*m[7] - m[8]*m[3]*m[6]
	inv[11] = -m[0]*m[5]*m[11] + m[0]*m[7]*m[9] + m[4]*m[1]*m[11] - m[4]*m[3]*m[9] - m[8]*m[1]*m[7] + m[8]*m[3]*m[5]
	inv[15] = m[0]*m[5]*m[10] - m[0]*m[6]*m[9] - m[4]*m[1]*m[10] + m[4]*m[2]*m[9] + m[8]*m[1]*m[6] - m[8]*m[2]*m[5]

	det := m[0]*inv[0] + m[1]*inv[4] + m[2]*inv[8] + m[3]*inv[12]
	if det == 0 {
		return Mat4{}, false
	}

	det = 1.0 / det
	out := Mat4{}
	for i := range inv {
		out.Data[i] = inv[i] * det
	}
	return out, true
}

// Inverse is InverseOK without the singularity flag.
func (mt Mat4) Inverse() Mat4 {
	out, _ := mt.InverseOK()
	return out
}

/**
 * @brief Creates a right-handed orthographic projection for the given
 * view volume, mapping depth to [0, 1].
 */
func NewMat4OrthographicOffCenter(left, right, bottom, top, nearClip, farClip float32) Mat4 {
	out := NewMat4Identity()
	out.Data[0] = 2.0 / (right - left)
	out.Data[5] = 2.0 / (top - bottom)
	out.Data[10] = 1.0 / (nearClip - farClip)
	out.Data[12] = (left + right) / (left - right)
	out.Data[13] = (top + bottom) / (bottom - top)
	out.Data[14] = nearClip / (nearClip - farClip)
	return out
}

/**
 * @brief Creates a right-handed perspective projection mapping depth to [0, 1].
 *
 * @param fovRadians The vertical field of view in radians.
 * @param aspectRatio Width over height.
 */
func NewMat4PerspectiveFov(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	h := 1.0 / Tan(fovRadians*0.5)
	out := Mat4{}
	out.Data[0] = h / aspectRatio
	out.Data[5] = h
	out.Data[10] = farClip / (nearClip - farClip)
	out.Data[11] = -1.0
	out.Data[14] = nearClip * farClip / (nearClip - farClip)
	return out
}

/**
 * @brief Creates a right-handed look-at (view) matrix, looking at target
 * from the perspective of position.
 */
func NewMat4LookAt(position, target, up Vec3) Mat4 {
	zAxis := position.Sub(target).Normalized()
	xAxis := up.Cross(zAxis).Normalized()
	yAxis := zAxis.Cross(xAxis)

	out := Mat4{}
	out.Data[0] = xAxis.X
	out.Data[1] = yAxis.X
	out.Data[2] = zAxis.X
	out.Data[4] = xAxis.Y
	out.Data[5] = yAxis.Y
	out.Data[6] = zAxis.Y
	out.Data[8] = xAxis.Z
	out.Data[9] = yAxis.Z
	out.Data[10] = zAxis.Z
	out.Data[12] = -xAxis.Dot(position)
	out.Data[13] = -yAxis.Dot(position)
	out.Data[14] = -zAxis.Dot(position)
	out.Data[15] = 1.0
	return out
}

func NewMat4Translation(position Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[12] = position.X
	out.Data[13] = position.Y
	out.Data[14] = position.Z
	return out
}

func NewMat4Scale(scale Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[0] = scale.X
	out.Data[5] = scale.Y
	out.Data[10] = scale.Z
	return out
}

func NewMat4RotationX(angleRadians float32) Mat4 {
	out := NewMat4Identity()
	c, s := Cos(angleRadians), Sin(angleRadians)
	out.Data[5] = c
	out.Data[6] = s
	out.Data[9] = -s
	out.Data[10] = c
	return out
}

func NewMat4RotationY(angleRadians float32) Mat4 {
	out := NewMat4Identity()
	c, s := Cos(angleRadians), Sin(angleRadians)
	out.Data[0] = c
	out.Data[2] = -s
	out.Data[8] = s
	out.Data[10] = c
	return out
}

func NewMat4RotationZ(angleRadians float32) Mat4 {
	out := NewMat4Identity()
	c, s := Cos(angleRadians), Sin(angleRadians)
	out.Data[0] = c
	out.Data[1] = s
	out.Data[4] = -s
	out.Data[5] = c
	return out
}

// NewMat4AxisAngle rotates angleRadians around a unit axis.
func NewMat4AxisAngle(axis Vec3, angleRadians float32) Mat4 {
	a := axis.Normalized()
	c, s := Cos(angleRadians), Sin(angleRadians)
	t := 1 - c

	out := NewMat4Identity()
	out.Data[0] = t*a.X*a.X + c
	out.Data[1] = t*a.X*a.Y + s*a.Z
	out.Data[2] = t*a.X*a.Z - s*a.Y
	out.Data[4] = t*a.X*a.Y - s*a.Z
	out.Data[5] = t*a.Y*a.Y + c
	out.Data[6] = t*a.Y*a.Z + s*a.X
	out.Data[8] = t*a.X*a.Z + s*a.Y
	out.Data[9] = t*a.Y*a.Z - s*a.X
	out.Data[10] = t*a.Z*a.Z + c
	return out
}

// Compare reports whether every element differs by at most tolerance.
func (mt Mat4) Compare(other Mat4, tolerance float32) bool {
	for i := range mt.Data {
		if Abs(mt.Data[i]-other.Data[i]) > tolerance {
			return false
		}
	}
	return true
}
