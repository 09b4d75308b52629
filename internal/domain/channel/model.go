package channel

import "strings"

// State is the canonical connection state of the gateway channel session.
// Provider vocabulary is folded into these three values at the boundary.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// NormalizeState maps the gateway's own state vocabulary ("open", "close",
// "refused", ...) onto the canonical enum. Unknown values are treated as
// disconnected so callers never act on an optimistic guess.
func NormalizeState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "connected", "online":
		return StateConnected
	case "connecting", "pairing", "qrcode", "syncing":
		return StateConnecting
	default:
		return StateDisconnected
	}
}

// Settings is the channel configuration record. The API key is deliberately
// absent: it lives in process secret storage only.
type Settings struct {
	ServerURL          string
	InstanceName       string
	DefaultCountryCode string
	Active             bool
}
