package ingest

import (
	"encoding/json"
	"fmt"
	"io"
)

// RawRecord is one entry of the ingest file.
type RawRecord struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Themes  []string `json:"themes"`
	Author  string   `json:"author,omitempty"`
}

// ReadRecords decodes a JSON array of records.
func ReadRecords(r io.Reader) ([]RawRecord, error) {
	var out []RawRecord
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return out, nil
}
