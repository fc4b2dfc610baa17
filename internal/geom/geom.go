// Package geom holds the position and scope types shared by the observer
// feed and the streamers.
package geom

import "math"

// AllScopes matches any interior or world.
const AllScopes int32 = -1

// Vec3 is a world position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistSq returns the squared distance between two positions.
func (v Vec3) DistSq(o Vec3) float64 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	dz := v.Z - o.Z
	return dx*dx + dy*dy + dz*dz
}

func (v Vec3) Dist(o Vec3) float64 {
	return math.Sqrt(v.DistSq(o))
}

// Axis returns the coordinate on axis 0 (X), 1 (Y) or 2 (Z).
func (v Vec3) Axis(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Scope limits visibility to observers in the same interior and world.
// Entities may use AllScopes for either field; observers always carry
// concrete values.
type Scope struct {
	Interior int32 `json:"interior"`
	World    int32 `json:"world"`
}

// Everywhere is the scope of an entity visible in every interior and world.
var Everywhere = Scope{Interior: AllScopes, World: AllScopes}

// Sees reports whether an observer in scope s can see an entity scoped to e.
func (s Scope) Sees(e Scope) bool {
	return (e.Interior == AllScopes || e.Interior == s.Interior) &&
		(e.World == AllScopes || e.World == s.World)
}
