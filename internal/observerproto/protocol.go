// Package observerproto defines the JSON messages of the read-only terrain
// observer stream.
package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeChunk       = "CHUNK"
	TypeChunkFailed = "CHUNK_FAILED"
	TypeProgress    = "PROGRESS"
)

// MeshEncoding names the array encodings used in ChunkMsg: little-endian
// float32 triples for vectors, zigzag delta varints for indices, both base64.
const MeshEncoding = "f32le+zz-delta-varint"

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// MaxChunks caps the number of CHUNK messages the session receives.
	MaxChunks int `json:"max_chunks"`
	// SkipNormals drops the normals array from CHUNK messages.
	SkipNormals bool `json:"skip_normals,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Progress        ProgressMsg `json:"progress"`
}

type WorldParams struct {
	TickRateHz int `json:"tick_rate_hz"`
	ChunkSize  int `json:"chunk_size"`
	Span       int `json:"span"`
	// Seed is a decimal string; it does not fit a JSON double.
	Seed         string  `json:"seed"`
	RangeMin     [3]int  `json:"range_min"`
	RangeMax     [3]int  `json:"range_max"`
	Isovalue     float32 `json:"isovalue"`
	TuningDigest string  `json:"tuning_digest"`
}

// Server -> Client. One installed chunk.
type ChunkMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	Coord           [3]int     `json:"coord"`
	Offset          [3]float32 `json:"offset"`
	Digest          string     `json:"digest"`
	Vertices        int        `json:"vertices"`
	Triangles       int        `json:"triangles"`
	Encoding        string     `json:"encoding"`
	Positions       string     `json:"positions"`
	Normals         string     `json:"normals,omitempty"`
	Indices         string     `json:"indices"`
}

// Server -> Client. A chunk whose generation failed.
type ChunkFailedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Coord           [3]int `json:"coord"`
	Error           string `json:"error"`
}

// Server -> Client. Sent every tick.
type ProgressMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	Installed       int     `json:"installed"`
	Failed          int     `json:"failed"`
	Cached          int     `json:"cached"`
	ElapsedMs       float64 `json:"elapsed_ms"`
	Done            bool    `json:"done"`
}
