package types

// Record is one event or snapshot as it travels on the wire. Callers supply
// free-form fields; the client adds the fields named below.
type Record map[string]any

// PlayerInfo is the mutable set of attributes describing the current player.
type PlayerInfo map[string]any

// Player is the collector's reply to POST /v1/player/.
type Player struct {
	ID string `json:"id"`
}

// Field names the client and collector agree on.
const (
	FieldType        = "type"
	FieldSection     = "section"
	FieldUserTime    = "userTime"
	FieldGameVersion = "gameVersion"
	FieldPlayer      = "player"
	FieldCustomData  = "customData"
)

// Endpoint paths relative to a collector's base URL.
const (
	PathStatus      = "/status"
	PathGameVersion = "/v1/gameVersion/"
	PathPlayer      = "/v1/player/"
	PathEvent       = "/v1/event/"
	PathSnapshot    = "/v1/snapshot/"
)

// UserTimeLayout is ISO-8601 in UTC with millisecond precision.
const UserTimeLayout = "2006-01-02T15:04:05.000Z07:00"
