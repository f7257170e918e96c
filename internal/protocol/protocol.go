package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// viewer -> server
	TypeHello     = "HELLO"
	TypeViewport  = "VIEWPORT"
	TypeWorld     = "WORLD"
	TypeTileQuery = "TILE_QUERY"

	// server -> viewer
	TypeWelcome    = "WELCOME"
	TypeChunk      = "CHUNK"
	TypeChunkEvict = "CHUNK_EVICT"
	TypeReady      = "READY"
	TypeWorldReset = "WORLD_RESET"
	TypeTile       = "TILE"
	TypeError      = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
