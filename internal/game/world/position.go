// Package world hosts instances and equipped entities, and the chunk
// geometry observers use to decide what they can see.
package world

import "math"

// ChunkSize is the edge length of a chunk in blocks.
const ChunkSize = 16

// viewExtraRadius widens every view by this many chunks so entities at the
// edge of the loaded area are still tracked.
const viewExtraRadius = 2

// Vec3 is a position in world space.
type Vec3 struct {
	X, Y, Z float64
}

// ChunkPos identifies a chunk column by its X and Z coordinates.
type ChunkPos struct {
	X, Z int32
}

// ChunkPosAt returns the chunk containing p.
//
// Postcondition: X = floor(p.X / 16), Z = floor(p.Z / 16).
func ChunkPosAt(p Vec3) ChunkPos {
	return ChunkPos{
		X: int32(math.Floor(p.X / ChunkSize)),
		Z: int32(math.Floor(p.Z / ChunkSize)),
	}
}

// ChunkView is the circular area of chunks an observer currently tracks.
type ChunkView struct {
	// Center is the chunk the view is centred on.
	Center ChunkPos
	// Distance is the view radius in chunks.
	Distance int
}

// NewChunkView returns a view of distance chunks around the chunk containing p.
func NewChunkView(p Vec3, distance int) ChunkView {
	return ChunkView{Center: ChunkPosAt(p), Distance: distance}
}

// Contains reports whether pos lies inside the view.
func (v ChunkView) Contains(pos ChunkPos) bool {
	dx := int64(pos.X) - int64(v.Center.X)
	dz := int64(pos.Z) - int64(v.Center.Z)
	r := int64(v.Distance) + viewExtraRadius
	return dx*dx+dz*dz <= r*r
}
