package upstream

import (
	"encoding/json"
	"fmt"
)

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &TransportError{Op: "decode upstream body", Err: fmt.Errorf("%w: %s", err, truncate(body, 200))}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
