package stream

import "encoding/json"

// Control-channel message types received from the backend.
const (
	msgStreamStopped = "stream_stopped"
)

// controlMessage is the envelope of inbound control-channel messages.
type controlMessage struct {
	Type         string `json:"type"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// parseControlMessage decodes an inbound control-channel payload.
// Unknown or malformed payloads return ok=false and are ignored.
func parseControlMessage(data []byte) (controlMessage, bool) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		return controlMessage{}, false
	}
	return msg, true
}
