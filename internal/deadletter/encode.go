package deadletter

import (
	"encoding/json"
	"fmt"
)

func encodeEntry(entry Entry) ([]byte, error) {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode dead-letter entry: %w", err)
	}
	return data, nil
}
