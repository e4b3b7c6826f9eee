package commsutil

import (
	"encoding/json"
	"fmt"
)

// EncodePayload serializes an event payload to JSON.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes a JSON event payload into a T.
func DecodePayload[T any](data []byte) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("commsutil:codec - decode %T: %w", out, err)
	}
	return out, nil
}
