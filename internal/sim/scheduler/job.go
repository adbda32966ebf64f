package scheduler

import (
	"github.com/alitto/pond/v2"

	"subair/internal/terrain/chunk"
)

// Outcome is the resolved result of a job: an artifact, or the error that
// stopped it.
type Outcome struct {
	Coord    chunk.Coord
	Artifact chunk.Artifact
	Cached   bool
	Err      error
}

type product struct {
	artifact chunk.Artifact
	cached   bool
}

// Job is a handle on one chunk being built by the pool. It is owned by the
// goroutine that polls it.
type Job struct {
	coord  chunk.Coord
	result pond.Result[product]
	taken  bool
}

func (j *Job) Coord() chunk.Coord { return j.coord }

// Ready reports whether the job has finished, without consuming it.
func (j *Job) Ready() bool {
	select {
	case <-j.result.Done():
		return true
	default:
		return false
	}
}

// TryReceive returns the outcome if the job has finished and was not received
// before. It never blocks.
func (j *Job) TryReceive() (Outcome, bool) {
	if j.taken || !j.Ready() {
		return Outcome{}, false
	}
	j.taken = true
	p, err := j.result.Wait()
	if err != nil {
		return Outcome{Coord: j.coord, Err: err}, true
	}
	return Outcome{Coord: j.coord, Artifact: p.artifact, Cached: p.cached}, true
}
