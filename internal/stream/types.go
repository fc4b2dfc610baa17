package stream

import "github.com/worldstream/server/internal/geom"

type (
	Vec3  = geom.Vec3
	Scope = geom.Scope
)

// AllScopes matches any interior or world.
const AllScopes = geom.AllScopes

// Everywhere is the scope of an entity visible in every interior and world.
var Everywhere = geom.Everywhere
