package math

/**
 * @brief Calculates the axis aligned extents and the center of the given positions.
 * An empty slice yields zero extents.
 */
func GeometryCalculateExtents(positions []Vec3) (Extents3D, Vec3) {
	if len(positions) == 0 {
		return Extents3D{}, NewVec3Zero()
	}
	extents := Extents3D{Min: positions[0], Max: positions[0]}
	for _, p := range positions[1:] {
		extents.Min.X = min(extents.Min.X, p.X)
		extents.Min.Y = min(extents.Min.Y, p.Y)
		extents.Min.Z = min(extents.Min.Z, p.Z)
		extents.Max.X = max(extents.Max.X, p.X)
		extents.Max.Y = max(extents.Max.Y, p.Y)
		extents.Max.Z = max(extents.Max.Z, p.Z)
	}
	center := extents.Min.Add(extents.Max).MulScalar(0.5)
	return extents, center
}
