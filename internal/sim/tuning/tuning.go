// Package tuning loads terrain.yaml, the generation and runtime parameters of
// a terrain world.
package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"subair/internal/terrain/chunk"
	"subair/internal/terrain/noise"
)

const ProtocolVersion = "1.0"

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	Seed       uint64 `yaml:"seed" json:"seed"`
	TickRateHz int    `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	// Workers is the generation pool size; 0 means one per CPU.
	Workers int `yaml:"workers" json:"workers"`

	Chunk ChunkTuning `yaml:"chunk" json:"chunk"`
	Range RangeTuning `yaml:"range" json:"range"`
	Noise NoiseTuning `yaml:"noise" json:"noise"`
}

type ChunkTuning struct {
	Size int `yaml:"size" json:"size"`
	// Span is the world distance between neighbouring chunk origins.
	Span           int     `yaml:"span" json:"span"`
	Isovalue       float32 `yaml:"isovalue" json:"isovalue"`
	MergeTolerance float32 `yaml:"merge_tolerance" json:"merge_tolerance"`
}

// RangeTuning bounds the generated chunk coordinates; max is exclusive.
type RangeTuning struct {
	Min []int `yaml:"min" json:"min"`
	Max []int `yaml:"max" json:"max"`
}

type NoiseTuning struct {
	Kind       string  `yaml:"kind" json:"kind"`
	Octaves    int     `yaml:"octaves" json:"octaves"`
	Gain       float32 `yaml:"gain" json:"gain"`
	Lacunarity float32 `yaml:"lacunarity" json:"lacunarity"`
	Frequency  float32 `yaml:"frequency" json:"frequency"`
}

func Defaults() Tuning {
	np := noise.DefaultParams()
	cp := chunk.DefaultParams()
	return Tuning{
		ProtocolVersion: ProtocolVersion,
		Seed:            23478235784239483,
		TickRateHz:      20,
		Chunk: ChunkTuning{
			// Span stays unset so Normalize derives it from the loaded Size.
			Size:           cp.Size,
			Isovalue:       cp.Iso,
			MergeTolerance: cp.MergeTolerance,
		},
		Range: RangeTuning{
			Min: []int{0, 0, 0},
			Max: []int{10, 10, 10},
		},
		Noise: NoiseTuning{
			Kind:       np.Kind.String(),
			Octaves:    np.Octaves,
			Gain:       np.Gain,
			Lacunarity: np.Lacunarity,
			Frequency:  np.Frequency,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("terrain.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("terrain.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills unset fields from the defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.Workers < 0 {
		t.Workers = 0
	}
	if t.Chunk.Size == 0 {
		t.Chunk.Size = d.Chunk.Size
	}
	if t.Chunk.Span == 0 {
		t.Chunk.Span = t.Chunk.Size - 1
	}
	if t.Chunk.MergeTolerance == 0 {
		t.Chunk.MergeTolerance = d.Chunk.MergeTolerance
	}
	if len(t.Range.Min) == 0 {
		t.Range.Min = d.Range.Min
	}
	if len(t.Range.Max) == 0 {
		t.Range.Max = d.Range.Max
	}
	t.Noise.Kind = strings.ToLower(strings.TrimSpace(t.Noise.Kind))
	if t.Noise.Kind == "" {
		t.Noise.Kind = d.Noise.Kind
	} else if k, err := noise.ParseKind(t.Noise.Kind); err == nil {
		t.Noise.Kind = k.String()
	}
	if t.Noise.Octaves == 0 {
		t.Noise.Octaves = d.Noise.Octaves
	}
	if t.Noise.Lacunarity == 0 {
		t.Noise.Lacunarity = d.Noise.Lacunarity
	}
	if t.Noise.Frequency == 0 {
		t.Noise.Frequency = d.Noise.Frequency
	}
}

func (t Tuning) Validate() error {
	if t.Chunk.Size < 2 {
		return fmt.Errorf("chunk.size must be >= 2 (got %d)", t.Chunk.Size)
	}
	if t.Chunk.Span < 1 {
		return fmt.Errorf("chunk.span must be >= 1 (got %d)", t.Chunk.Span)
	}
	if !(t.Chunk.MergeTolerance > 0) {
		return fmt.Errorf("chunk.merge_tolerance must be > 0 (got %v)", t.Chunk.MergeTolerance)
	}
	if len(t.Range.Min) != 3 || len(t.Range.Max) != 3 {
		return fmt.Errorf("range.min and range.max need 3 components")
	}
	for i, axis := range []string{"x", "y", "z"} {
		if t.Range.Max[i] <= t.Range.Min[i] {
			return fmt.Errorf("range %s: max %d must exceed min %d", axis, t.Range.Max[i], t.Range.Min[i])
		}
	}
	if _, err := noise.ParseKind(t.Noise.Kind); err != nil {
		return fmt.Errorf("noise.kind: %w", err)
	}
	if t.Noise.Octaves < 1 || t.Noise.Octaves > 16 {
		return fmt.Errorf("noise.octaves must be in 1..16 (got %d)", t.Noise.Octaves)
	}
	if !(t.Noise.Frequency > 0) {
		return fmt.Errorf("noise.frequency must be > 0 (got %v)", t.Noise.Frequency)
	}
	if t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be <= 1000 (got %d)", t.TickRateHz)
	}
	return nil
}

// ChunkParams converts the tuning into generator parameters. The noise kind
// is assumed valid (see Validate).
func (t Tuning) ChunkParams() chunk.Params {
	kind, _ := noise.ParseKind(t.Noise.Kind)
	return chunk.Params{
		Size:           t.Chunk.Size,
		Iso:            t.Chunk.Isovalue,
		MergeTolerance: t.Chunk.MergeTolerance,
		Noise: noise.Params{
			Kind:       kind,
			Octaves:    t.Noise.Octaves,
			Gain:       t.Noise.Gain,
			Lacunarity: t.Noise.Lacunarity,
			Frequency:  t.Noise.Frequency,
		},
	}
}

func (t Tuning) ChunkRange() chunk.Range {
	at := func(v []int, i int) int {
		if i < len(v) {
			return v[i]
		}
		return 0
	}
	return chunk.Range{
		Min: chunk.Coord{X: at(t.Range.Min, 0), Y: at(t.Range.Min, 1), Z: at(t.Range.Min, 2)},
		Max: chunk.Coord{X: at(t.Range.Max, 0), Y: at(t.Range.Max, 1), Z: at(t.Range.Max, 2)},
	}
}

// Digest identifies everything that affects chunk geometry. Two runs with the
// same digest produce identical artifacts for the same coordinate.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(struct {
		Seed  uint64      `json:"seed"`
		Chunk ChunkTuning `json:"chunk"`
		Noise NoiseTuning `json:"noise"`
	}{t.Seed, t.Chunk, t.Noise})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
