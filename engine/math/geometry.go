package math

/**
 * @brief Generates a box centred on the origin with the given full size.
 * Each face has its own four vertices so normals stay flat. Front faces
 * are wound clockwise as seen from outside, matching the default
 * rasterizer state (cull counter clockwise).
 */
func GeometryGenerateBox(size Vec3) ([]Vertex3D, []uint16) {
	faceNormals := [6]Vec3{
		{0, 0, 1}, {0, 0, -1}, {1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0},
	}
	texcoords := [4]Vec2{{1, 0}, {1, 1}, {0, 1}, {0, 0}}
	half := size.MulScalar(0.5)

	vertices := make([]Vertex3D, 0, 24)
	indices := make([]uint16, 0, 36)

	for _, n := range faceNormals {
		side1 := Vec3{n.Y, n.Z, n.X}
		side2 := n.Cross(side1)
		base := uint16(len(vertices))

		corners := [4]Vec3{
			n.Sub(side1).Sub(side2),
			n.Sub(side1).Add(side2),
			n.Add(side1).Add(side2),
			n.Add(side1).Sub(side2),
		}
		for i, c := range corners {
			vertices = append(vertices, Vertex3D{
				Position: c.Mul(half),
				Normal:   n,
				Texcoord: texcoords[i],
			})
		}

		for _, tri := range [2][3]uint16{{0, 1, 2}, {0, 2, 3}} {
			a := vertices[base+tri[0]].Position
			b := vertices[base+tri[1]].Position
			c := vertices[base+tri[2]].Position
			// counter clockwise from outside points the cross product along n
			if b.Sub(a).Cross(c.Sub(a)).Dot(n) > 0 {
				tri[1], tri[2] = tri[2], tri[1]
			}
			indices = append(indices, base+tri[0], base+tri[1], base+tri[2])
		}
	}
	return vertices, indices
}

// GeometryGenerateNormals assigns flat face normals to an indexed triangle list.
func GeometryGenerateNormals(vertices []Vertex3D, indices []uint16) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		// Clockwise front faces, so the outward normal is edge2 x edge1.
		normal := edge2.Cross(edge1).Normalized()

		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}
