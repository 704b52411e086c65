package events

import (
	"encoding/json"
	"fmt"
)

// EncodeSSE renders ev as a server-sent events frame. Events without data
// carry an empty object; the end event carries the [DONE] sentinel.
func EncodeSSE(ev Event) ([]byte, error) {
	if ev.Type == End {
		return []byte("event: end\ndata: [DONE]\n\n"), nil
	}
	data := []byte("{}")
	if ev.Data != nil {
		var err error
		if data, err = json.Marshal(ev.Data); err != nil {
			return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
		}
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", ev.Type, data), nil
}
