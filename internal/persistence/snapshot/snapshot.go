// Package snapshot stores chunk artifacts as zstd files: one JSON header line
// followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/zstd"

	"subair/internal/terrain/chunk"
	"subair/internal/terrain/mesh"
)

const Version = 1

const Ext = ".mesh.zst"

type Header struct {
	Version      int         `json:"version"`
	Coord        chunk.Coord `json:"coord"`
	Seed         uint64      `json:"seed"`
	TuningDigest string      `json:"tuning_digest"`
	Digest       string      `json:"digest"`
	Vertices     int         `json:"vertices"`
	Triangles    int         `json:"triangles"`
}

// ArtifactV1 is the gob body. The collider is not stored; it is rebuilt from
// the mesh on read.
type ArtifactV1 struct {
	Header Header

	Offset    mgl32.Vec3
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32
	Stats     chunk.Stats
}

// ArtifactPath is <dataDir>/chunks/<x>_<y>_<z>.mesh.zst.
func ArtifactPath(dataDir string, c chunk.Coord) string {
	return filepath.Join(dataDir, "chunks", c.String()+Ext)
}

// CoordFromPath parses the coordinate out of an artifact file name.
func CoordFromPath(path string) (chunk.Coord, error) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, Ext) {
		return chunk.Coord{}, fmt.Errorf("not an artifact file: %s", base)
	}
	return chunk.ParseCoord(strings.TrimSuffix(base, Ext))
}

func NewHeader(a *chunk.Artifact, seed uint64, tuningDigest string) Header {
	return Header{
		Version:      Version,
		Coord:        a.Coord,
		Seed:         seed,
		TuningDigest: tuningDigest,
		Digest:       a.Digest(),
		Vertices:     len(a.Mesh.Positions),
		Triangles:    a.Mesh.TriangleCount(),
	}
}

// WriteArtifact writes to a temporary file and renames it into place, so
// readers never see a partial artifact.
func WriteArtifact(path string, hdr Header, a *chunk.Artifact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeArtifact(tmp, hdr, a); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeArtifact(path string, hdr Header, a *chunk.Artifact) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(hdr)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	body := ArtifactV1{
		Header:    hdr,
		Offset:    a.Offset,
		Positions: a.Mesh.Positions,
		Normals:   a.Mesh.Normals,
		Indices:   a.Mesh.Indices,
		Stats:     a.Stats,
	}
	if err := gob.NewEncoder(bw).Encode(&body); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadArtifact(path string) (Header, chunk.Artifact, error) {
	var body ArtifactV1
	f, err := os.Open(path)
	if err != nil {
		return Header{}, chunk.Artifact{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, chunk.Artifact{}, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return Header{}, chunk.Artifact{}, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&body); err != nil {
		return Header{}, chunk.Artifact{}, fmt.Errorf("gob decode: %w", err)
	}
	if body.Header.Version != Version {
		return body.Header, chunk.Artifact{}, fmt.Errorf("unsupported artifact version %d", body.Header.Version)
	}

	a := chunk.Artifact{
		Coord:  body.Header.Coord,
		Offset: body.Offset,
		Mesh: mesh.Mesh{
			Positions: body.Positions,
			Normals:   body.Normals,
			Indices:   body.Indices,
		},
		Stats: body.Stats,
	}
	if err := a.Mesh.Validate(); err != nil {
		return body.Header, chunk.Artifact{}, fmt.Errorf("%s: %w", path, err)
	}
	a.Collider = mesh.NewCollider(&a.Mesh)
	return body.Header, a, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var hdr Header
	f, err := os.Open(path)
	if err != nil {
		return hdr, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return hdr, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, fmt.Errorf("decode header: %w", err)
	}
	return hdr, nil
}

// List returns the artifact files under <dataDir>/chunks, sorted by name.
func List(dataDir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "chunks", "*"+Ext))
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// LoadCached returns the stored artifact for c when it was produced with the
// same seed and tuning digest. A missing file is not an error.
func LoadCached(dataDir string, c chunk.Coord, seed uint64, tuningDigest string) (chunk.Artifact, bool, error) {
	path := ArtifactPath(dataDir, c)
	hdr, err := ReadHeader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return chunk.Artifact{}, false, nil
		}
		return chunk.Artifact{}, false, err
	}
	if hdr.Version != Version || hdr.Seed != seed || hdr.TuningDigest != tuningDigest || hdr.Coord != c {
		return chunk.Artifact{}, false, nil
	}
	_, a, err := ReadArtifact(path)
	if err != nil {
		return chunk.Artifact{}, false, err
	}
	if a.Digest() != hdr.Digest {
		return chunk.Artifact{}, false, fmt.Errorf("%s: digest mismatch", path)
	}
	return a, true, nil
}
