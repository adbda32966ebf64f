package world

// WorldMetrics is a read-only view of the world loop, safe to read from any
// goroutine.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Total     int  `json:"total"`
	Pending   int  `json:"pending"`
	Installed int  `json:"installed"`
	Failed    int  `json:"failed"`
	Cached    int  `json:"cached"`
	Done      bool `json:"done"`

	Vertices  int `json:"vertices"`
	Triangles int `json:"triangles"`
	Observers int `json:"observers"`

	Workers   int     `json:"workers"`
	ElapsedMS float64 `json:"elapsed_ms"`
	StepMS    float64 `json:"step_ms"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}
