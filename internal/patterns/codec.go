package patterns

import (
	"encoding/json"
	"fmt"
)

// Снимок хранится плоским JSON-объектом {"intent_call": 3, ...}
func encodeSnapshot(snapshot map[string]int) ([]byte, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("patterns: encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (map[string]int, error) {
	out := make(map[string]int)
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("patterns: corrupt snapshot: %w", err)
	}
	return out, nil
}
