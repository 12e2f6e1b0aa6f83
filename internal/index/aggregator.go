// Package index collects per-article metadata and writes articles_metadata.json.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"

	"hcharvest/internal/models"
	"hcharvest/pkg/utils"
)

// FileName is the index file written at the output root.
const FileName = "articles_metadata.json"

type entry struct {
	record models.MetadataRecord
	seq    int
}

// Aggregator is safe for concurrent use by article workers.
type Aggregator struct {
	entries []entry
	mu      sync.Mutex
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record stores rec under its enumeration sequence number.
func (a *Aggregator) Record(seq int, rec models.MetadataRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, entry{seq: seq, record: rec})
}

// Len reports how many records are held.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.entries)
}

// Records returns the records ordered by sequence.
func (a *Aggregator) Records() []models.MetadataRecord {
	a.mu.Lock()
	sorted := slices.Clone(a.entries)
	a.mu.Unlock()

	slices.SortStableFunc(sorted, func(x, y entry) int {
		return x.seq - y.seq
	})

	out := make([]models.MetadataRecord, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, e.record)
	}

	return out
}

// Flush writes every record as one indented JSON array, replacing path atomically.
// An empty run still produces an empty array.
func (a *Aggregator) Flush(path string) error {
	data, err := json.MarshalIndent(a.Records(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	if err := utils.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	return nil
}

// Load reads an index written by Flush.
func Load(path string) ([]models.MetadataRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var records []models.MetadataRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode index %s: %w", path, err)
	}

	return records, nil
}
