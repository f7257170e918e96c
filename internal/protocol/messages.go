package protocol

import "terraflow.ai/internal/terrain/noise"

// HELLO (viewer -> server). Seed, params and viewport are optional starting values.
type HelloMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	ViewerName      string        `json:"viewer_name,omitempty"`
	Seed            *string       `json:"seed,omitempty"`
	Params          *noise.Params `json:"params,omitempty"`
	Viewport        *ViewportMsg  `json:"viewport,omitempty"`
	Compress        *bool         `json:"compress,omitempty"`
}

// VIEWPORT (viewer -> server)
type ViewportMsg struct {
	Type            string  `json:"type,omitempty"`
	ProtocolVersion string  `json:"protocol_version,omitempty"`
	OffsetX         float64 `json:"offset_x"`
	OffsetY         float64 `json:"offset_y"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	Zoom            float64 `json:"zoom"`
}

// WORLD (viewer -> server): switch seed and/or params. Omitted fields keep
// their current value.
type WorldMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Seed            *string       `json:"seed,omitempty"`
	Params          *noise.Params `json:"params,omitempty"`
}

// TILE_QUERY (viewer -> server)
type TileQueryMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
}

type WorldInfo struct {
	Seed         string       `json:"seed"`
	Params       noise.Params `json:"params"`
	Epoch        uint64       `json:"epoch"`
	ChunkSize    int          `json:"chunk_size"`
	TileSize     int          `json:"tile_size"`
	NoiseBackend string       `json:"noise_backend"`
}

type Limits struct {
	MinZoom         float64 `json:"min_zoom"`
	MaxZoom         float64 `json:"max_zoom"`
	ViewportPadding int     `json:"viewport_padding"`
	ChunkCacheSize  int     `json:"chunk_cache_size"`
	Workers         int     `json:"workers"`
	ViewportRateHz  float64 `json:"viewport_rate_hz"`
}

// WELCOME (server -> viewer)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	World           WorldInfo `json:"world"`
	Limits          Limits    `json:"limits"`
}

const (
	EncodingJSON     = "json"
	EncodingZstdJSON = "zstd+json"
)

// CHUNK (server -> viewer). Data is base64 of a ChunkPayload in Encoding.
type ChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Epoch           uint64 `json:"epoch"`
	CX              int    `json:"cx"`
	CY              int    `json:"cy"`
	Encoding        string `json:"encoding"`
	Data            string `json:"data"`
}

// CHUNK_EVICT (server -> viewer)
type ChunkEvictMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Epoch           uint64 `json:"epoch"`
	CX              int    `json:"cx"`
	CY              int    `json:"cy"`
}

// READY (server -> viewer): the first visible set of an epoch is resident.
type ReadyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Epoch           uint64 `json:"epoch"`
}

// WORLD_RESET (server -> viewer): every previously sent chunk is invalid.
type WorldResetMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	World           WorldInfo `json:"world"`
}

type TileInfo struct {
	X        int     `json:"x"`
	Y        int     `json:"y"`
	PosX     int     `json:"pos_x"`
	PosY     int     `json:"pos_y"`
	W        int     `json:"w"`
	H        int     `json:"h"`
	Height   float64 `json:"height"`
	Moisture float64 `json:"moisture"`
	Heat     float64 `json:"heat"`
	Biome    string  `json:"biome"`
	Color    string  `json:"color"`
}

// TILE (server -> viewer). Found is false while the tile's chunk is not resident.
type TileMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ReqID           string    `json:"req_id"`
	Found           bool      `json:"found"`
	Tile            *TileInfo `json:"tile,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
