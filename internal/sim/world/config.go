package world

import (
	"subair/internal/terrain/chunk"
)

type WorldConfig struct {
	ID         string
	Seed       uint64
	TickRateHz int
	Workers    int
	Span       int
	Range      chunk.Range
	Params     chunk.Params

	// TuningDigest identifies the generation parameters; it is reported to
	// observers and sinks.
	TuningDigest string

	// Debug logs per-chunk stage timings.
	Debug bool

	// Load is offered every coordinate before it is generated.
	Load func(c chunk.Coord) (chunk.Artifact, bool)
	// Generate replaces chunk.Generate when set.
	Generate func(c chunk.Coord) (chunk.Artifact, error)
}

func (c *WorldConfig) normalize() {
	if c.ID == "" {
		c.ID = "terrain"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.Span <= 0 {
		c.Span = c.Params.Size - 1
	}
}
