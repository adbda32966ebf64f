// Package encoding packs mesh arrays into base64 strings for the observer
// stream.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// EncodeVec3s encodes vectors as base64(little-endian float32 x,y,z ...).
func EncodeVec3s(vs []mgl32.Vec3) string {
	buf := make([]byte, 12*len(vs))
	for i, v := range vs {
		o := i * 12
		binary.LittleEndian.PutUint32(buf[o:], math.Float32bits(v[0]))
		binary.LittleEndian.PutUint32(buf[o+4:], math.Float32bits(v[1]))
		binary.LittleEndian.PutUint32(buf[o+8:], math.Float32bits(v[2]))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func DecodeVec3s(b64 string) ([]mgl32.Vec3, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(raw)%12 != 0 {
		return nil, fmt.Errorf("vector payload length %d is not a multiple of 12", len(raw))
	}
	out := make([]mgl32.Vec3, len(raw)/12)
	for i := range out {
		o := i * 12
		out[i] = mgl32.Vec3{
			math.Float32frombits(binary.LittleEndian.Uint32(raw[o:])),
			math.Float32frombits(binary.LittleEndian.Uint32(raw[o+4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(raw[o+8:])),
		}
	}
	return out, nil
}

// EncodeIndices encodes an index list as base64(varint deltas). Each value is
// the signed difference from the previous index, zigzag encoded.
func EncodeIndices(idx []uint32) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	prev := int64(0)
	for _, v := range idx {
		n := binary.PutVarint(tmp[:], int64(v)-prev)
		buf.Write(tmp[:n])
		prev = int64(v)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeIndices(b64 string) ([]uint32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint32
	prev := int64(0)
	for i := 0; i < len(raw); {
		d, n := binary.Varint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		v := prev + d
		if v < 0 || v > math.MaxUint32 {
			return nil, fmt.Errorf("index out of range: %d", v)
		}
		out = append(out, uint32(v))
		prev = v
	}
	return out, nil
}
