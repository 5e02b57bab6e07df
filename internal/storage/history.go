package storage

import (
	"encoding/json"
	"fmt"

	"pillhelper/internal/domain"
)

// HistoryKey is the single key the whole history list is stored under.
const HistoryKey = "pill_history"

func decodeHistory(data []byte) ([]domain.HistoryEntry, error) {
	if len(data) == 0 {
		return []domain.HistoryEntry{}, nil
	}
	var entries []domain.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

func encodeHistory(entries []domain.HistoryEntry) ([]byte, error) {
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	return data, nil
}
