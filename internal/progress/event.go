// Package progress carries per-job progress events from the pipeline to a
// single live listener.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
)

type EventType string

const (
	TypeConnected EventType = "connected"
	TypeProgress  EventType = "progress"
	TypeWarning   EventType = "warning"
	TypeError     EventType = "error"
	TypeCompleted EventType = "completed"
)

// Event is immutable once published. Result is set only on completed events
// and Error only on error events.
type Event struct {
	Type     EventType `json:"type"`
	Step     string    `json:"step,omitempty"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Details  string    `json:"details,omitempty"`
	Result   any       `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func Connected() Event {
	return Event{Type: TypeConnected, Progress: 0, Message: "Progress stream connected"}
}

// Encode writes e in server-sent events framing: "data: <json>\n\n".
func Encode(w io.Writer, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
