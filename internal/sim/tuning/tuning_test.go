package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subair/internal/terrain/chunk"
	"subair/internal/terrain/noise"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "terrain.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_RepoConfigMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "terrain.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	want.Normalize()
	if got.Digest() != want.Digest() {
		t.Fatalf("configs/terrain.yaml drifted from Defaults: %+v vs %+v", got, want)
	}
	if got.ChunkRange().Count() != 1000 {
		t.Fatalf("range count=%d want 1000", got.ChunkRange().Count())
	}
}

func TestLoad_EmptyPathIsDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Seed != 23478235784239483 || got.Chunk.Size != 32 || got.Chunk.Span != 31 {
		t.Fatalf("defaults=%+v", got)
	}
	p := got.ChunkParams()
	if p.Noise != noise.DefaultParams() || p.MergeTolerance != 1e-7 {
		t.Fatalf("params=%+v", p)
	}
}

func TestLoad_PartialOverrides(t *testing.T) {
	p := writeFile(t, `
seed: 7
chunk:
  size: 16
noise:
  kind: Rigid
  octaves: 3
`)
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Seed != 7 || got.Chunk.Size != 16 || got.Chunk.Span != 15 {
		t.Fatalf("got %+v", got)
	}
	if got.Noise.Kind != "rigid_multi" || got.ChunkParams().Noise.Kind != noise.RigidMulti {
		t.Fatalf("kind=%q", got.Noise.Kind)
	}
	if got.Noise.Frequency != 0.05 || got.TickRateHz != 20 {
		t.Fatalf("unset fields not defaulted: %+v", got)
	}
	want := chunk.Range{Max: chunk.Coord{X: 10, Y: 10, Z: 10}}
	if got.ChunkRange() != want {
		t.Fatalf("range=%+v", got.ChunkRange())
	}
}

func TestLoad_ExplicitSpanKept(t *testing.T) {
	got, err := Load(writeFile(t, "chunk:\n  size: 16\n  span: 20\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Chunk.Size != 16 || got.Chunk.Span != 20 {
		t.Fatalf("chunk=%+v", got.Chunk)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"chunk.size":      "chunk:\n  size: 1\n",
		"range x":         "range:\n  min: [3, 0, 0]\n  max: [3, 1, 1]\n",
		"noise.kind":      "noise:\n  kind: simplex\n",
		"noise.octaves":   "noise:\n  octaves: 40\n",
		"merge_tolerance": "chunk:\n  merge_tolerance: -1\n",
		"3 components":    "range:\n  max: [1, 1]\n",
	}
	for field, body := range cases {
		_, err := Load(writeFile(t, body))
		if err == nil {
			t.Fatalf("%s: expected error", field)
		}
		if !strings.Contains(err.Error(), field) || !strings.HasPrefix(err.Error(), "terrain.yaml: ") {
			t.Fatalf("%s: error %q should name the field", field, err)
		}
	}
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "seed: [\n"))
	if err == nil || !strings.HasPrefix(err.Error(), "terrain.yaml: ") {
		t.Fatalf("err=%v", err)
	}
}

func TestDigest_TracksGeometryOnly(t *testing.T) {
	a := Defaults()
	b := Defaults()
	b.TickRateHz = 5
	b.Workers = 3
	b.Range.Max = []int{2, 2, 2}
	if a.Digest() != b.Digest() {
		t.Fatalf("runtime-only fields changed the digest")
	}
	b.Noise.Gain = 0.5
	if a.Digest() == b.Digest() {
		t.Fatalf("noise gain did not change the digest")
	}
	c := Defaults()
	c.Seed++
	if a.Digest() == c.Digest() {
		t.Fatalf("seed did not change the digest")
	}
}
