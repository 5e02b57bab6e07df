package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pillhelper/internal/domain"
	"pillhelper/internal/ports"
)

const historyDateLayout = "2006-01-02 15:04:05"

// History is the in-memory identification log backed by a HistoryStore.
// Store failures are logged and never surface to the caller.
type History struct {
	store ports.HistoryStore
	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	entries []domain.HistoryEntry
}

func NewHistory(store ports.HistoryStore) *History {
	return &History{
		store:   store,
		now:     time.Now,
		newID:   uuid.NewString,
		entries: []domain.HistoryEntry{},
	}
}

// Load replaces the in-memory list with the persisted one.
func (h *History) Load(ctx context.Context) {
	entries, err := h.store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not load history, starting empty")
		return
	}

	h.mu.Lock()
	h.entries = entries
	h.mu.Unlock()
	log.Debug().Int("entries", len(entries)).Msg("history loaded")
}

// Add prepends a new entry and rewrites the whole persisted list.
func (h *History) Add(ctx context.Context, image string, record domain.MedicationRecord) domain.HistoryEntry {
	entry := domain.HistoryEntry{
		ID:    h.newID(),
		Image: image,
		Info:  record,
		Date:  h.now().Local().Format(historyDateLayout),
	}

	h.mu.Lock()
	updated := make([]domain.HistoryEntry, 0, len(h.entries)+1)
	updated = append(updated, entry)
	updated = append(updated, h.entries...)
	h.entries = updated
	h.mu.Unlock()

	if err := h.store.Save(ctx, updated); err != nil {
		log.Warn().Err(err).Str("entry", entry.ID).Msg("could not save history")
	}
	return entry
}

// Entries returns a copy of the list, newest first.
func (h *History) Entries() []domain.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.HistoryEntry{}, h.entries...)
}

func (h *History) Get(id string) (domain.HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, entry := range h.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return domain.HistoryEntry{}, false
}
