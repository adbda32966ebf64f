package world

import (
	"subair/internal/sim/scheduler"
	"subair/internal/terrain/chunk"
)

// ChunkEvent reports one resolved chunk. Artifact is nil for failures.
type ChunkEvent struct {
	Tick     uint64
	Coord    chunk.Coord
	Artifact *chunk.Artifact
	Cached   bool
	Err      error
}

// Sink receives generation results on the world goroutine. Implementations
// must not block; slow work belongs on their own goroutine.
type Sink interface {
	ChunkResolved(ev ChunkEvent)
	GenerationDone(tick uint64, p scheduler.Progress)
}
