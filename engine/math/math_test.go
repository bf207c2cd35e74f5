package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDivRoundUp(t *testing.T) {
	assert.Equal(t, uint32(0), DivRoundUp(uint32(0), 32))
	assert.Equal(t, uint32(1), DivRoundUp(uint32(1), 32))
	assert.Equal(t, uint32(1), DivRoundUp(uint32(32), 32))
	assert.Equal(t, uint32(2), DivRoundUp(uint32(33), 32))
	assert.Equal(t, 16, DivRoundUp(4096, 256))
}

func TestInverseRoundTrip(t *testing.T) {
	m := NewMat4RotationZ(0.7).
		Mul(NewMat4RotationX(-1.1)).
		Mul(NewMat4Scale(NewVec3(2, 3, 4))).
		Mul(NewMat4Translation(NewVec3(1, -2, 5)))

	inv, ok := m.InverseOK()
	require.True(t, ok)
	assert.True(t, m.Mul(inv).Compare(NewMat4Identity(), 1e-5))
	assert.True(t, inv.Mul(m).Compare(NewMat4Identity(), 1e-5))

	_, ok = Mat4{}.InverseOK()
	assert.False(t, ok)
}

func TestLookAtMapsTargetOntoNegativeZ(t *testing.T) {
	eye := NewVec3(0, 0, 5)
	view := NewMat4LookAt(eye, NewVec3Zero(), NewVec3UnitY())

	p := NewVec3Zero().Transform(view)
	assert.True(t, p.Compare(NewVec3(0, 0, -5), 1e-5))

	back := p.Transform(view.Inverse())
	assert.True(t, back.Compare(NewVec3Zero(), 1e-5))
}

func TestProjectionsMapDepthToUnitRange(t *testing.T) {
	ortho := NewMat4OrthographicOffCenter(-2, 2, -2, 2, 0, 4)
	assert.InDelta(t, 0, NewVec3(0, 0, 0).TransformCoord(ortho).Z, 1e-6)
	assert.InDelta(t, 1, NewVec3(0, 0, -4).TransformCoord(ortho).Z, 1e-6)
	assert.InDelta(t, 1, NewVec3(2, 0, -1).TransformCoord(ortho).X, 1e-6)

	persp := NewMat4PerspectiveFov(K_PI/3, 16.0/9.0, 0.1, 1000)
	assert.InDelta(t, 0, NewVec3(0, 0, -0.1).TransformCoord(persp).Z, 1e-5)
	assert.InDelta(t, 1, NewVec3(0, 0, -1000).TransformCoord(persp).Z, 1e-4)
}

func TestFrustumPlanesClassifyPoints(t *testing.T) {
	view := NewMat4LookAt(NewVec3(0, 0, 5), NewVec3Zero(), NewVec3UnitY())
	proj := NewMat4PerspectiveFov(K_PI/3, 1920.0/1080.0, 0.1, 1000)
	f := MakeFrustum(view, proj)

	assert.True(t, f.Contains(NewVec3Zero()))
	assert.False(t, f.Contains(NewVec3(0, 0, 10)), "behind the camera")
	assert.False(t, f.Contains(NewVec3(100, 0, 0)), "outside the right plane")

	planes := f.Planes()
	// near plane faces away from the camera, towards -Z
	assert.Less(t, planes[0].Normal.Z, float32(-0.99))
	// far plane faces back towards the camera
	assert.Greater(t, planes[1].Normal.Z, float32(0.99))
	// right plane normal points left, left plane normal points right
	assert.Less(t, planes[2].Normal.X, float32(0))
	assert.Greater(t, planes[3].Normal.X, float32(0))
}

func TestOBBTransformAndPlanes(t *testing.T) {
	r := float32(3)
	aabb := NewAABBFromPoints(
		NewVec3(-r, 0, 0), NewVec3(r, 0, 0),
		NewVec3(0, r, 0), NewVec3(0, -r, 0),
		NewVec3(0, 0, -1), NewVec3(0, 0, -2),
	)
	// the points on the z = 0 plane pull the box back to the origin
	assert.True(t, aabb.Center.Compare(NewVec3(0, 0, -1), 1e-6))
	assert.True(t, aabb.Extents.Compare(NewVec3(r, r, 1), 1e-6))

	view := NewMat4LookAt(NewVec3(0, 10, 0), NewVec3Zero(), NewVec3(0, 0, -1))
	obb := NewOBBFromAABB(aabb).Transform(view.Inverse())

	for _, c := range NewOBBFromAABB(aabb).Corners() {
		world := c.Transform(view.Inverse())
		assert.True(t, obb.Contains(world, 1e-4))
	}
	for _, pl := range obb.Planes() {
		assert.GreaterOrEqual(t, pl.DotCoordinate(obb.Center), float32(0))
	}
	assert.False(t, obb.Contains(NewVec3(0, 0, 0), 1e-4), "origin is 10 units below the light")
	assert.True(t, obb.Contains(NewVec3(0, 8.5, 0), 1e-4))
}

func TestPlaneFromPointsAndSide(t *testing.T) {
	p := PlaneFromPointsAndSide(NewVec3(0, 0, 0), NewVec3(1, 0, 0), NewVec3(0, 0, 1), NewVec3(0, -5, 0))
	assert.InDelta(t, -1, p.Normal.Y, 1e-6)
	assert.Greater(t, p.DotCoordinate(NewVec3(0, -1, 0)), float32(0))
}

func TestRayDistance(t *testing.T) {
	r := NewRay(NewVec3Zero(), NewVec3(0, 0, -2))
	assert.InDelta(t, 1, r.DistanceToPoint(NewVec3(1, 0, -4)), 1e-6)
	assert.InDelta(t, 1, r.Direction.Length(), 1e-6)
	// points behind the origin measure to the origin
	assert.InDelta(t, 5, r.DistanceToPoint(NewVec3(0, 0, 5)), 1e-6)
}

func TestBoxWindingIsClockwiseFromOutside(t *testing.T) {
	vertices, indices := GeometryGenerateBox(NewVec3(1, 1, 1))
	require.Len(t, vertices, 24)
	require.Len(t, indices, 36)

	for i := 0; i < len(indices); i += 3 {
		a := vertices[indices[i]]
		b := vertices[indices[i+1]]
		c := vertices[indices[i+2]]
		face := b.Position.Sub(a.Position).Cross(c.Position.Sub(a.Position))
		assert.Less(t, face.Dot(a.Normal), float32(0))
		assert.InDelta(t, 0.5, Abs(a.Position.Dot(a.Normal)), 1e-6)
	}

	copied := append([]Vertex3D(nil), vertices...)
	GeometryGenerateNormals(copied, indices)
	for i := range copied {
		assert.True(t, copied[i].Normal.Compare(vertices[i].Normal, 1e-6))
	}
}
