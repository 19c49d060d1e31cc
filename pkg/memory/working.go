package memory

import (
	"sort"
	"strings"
	"time"

	"github.com/theapemachine/mnemo/pkg/errors"
)

/*
WorkingStore holds the short-term context window. Access is fast, the
capacity is small and overflow always evicts the least recently used
entry. The store is not safe for concurrent use, the manager serializes
access around it.
*/
type WorkingStore struct {
	entries     map[string]*Entry
	capacity    int
	accessOrder []string
}

// NewWorkingStore creates a working store with the given capacity.
func NewWorkingStore(capacity int) *WorkingStore {
	return &WorkingStore{
		entries:     make(map[string]*Entry),
		capacity:    capacity,
		accessOrder: []string{},
	}
}

// Store inserts or replaces an entry, evicting the least recently used
// entries until the new one fits. Only working-typed entries are
// accepted.
func (store *WorkingStore) Store(entry *Entry) (string, error) {
	if entry.Type != TypeWorking {
		return "", errors.ErrInvalidMemoryType.WithTier("working").WithMessagef(
			"expected working, got %s", entry.Type,
		)
	}

	for len(store.entries) >= store.capacity {
		if store.evictOldest() == nil {
			break
		}
	}

	store.removeFromOrder(entry.ID)
	store.entries[entry.ID] = entry
	store.accessOrder = append(store.accessOrder, entry.ID)

	return entry.ID, nil
}

// Get returns a copy of the entry, or nil when absent. Reads do not
// count as accesses.
func (store *WorkingStore) Get(id string) *Entry {
	if entry, ok := store.entries[id]; ok {
		return entry.Clone()
	}

	return nil
}

// GetAndTouch returns a copy of the entry after recording an access and
// moving it to the most recent end of the eviction order.
func (store *WorkingStore) GetAndTouch(id string, now time.Time) *Entry {
	entry, ok := store.entries[id]
	if !ok {
		return nil
	}

	entry.RecordAccess(now)
	store.removeFromOrder(id)
	store.accessOrder = append(store.accessOrder, id)

	return entry.Clone()
}

// Delete removes an entry, reporting whether it existed.
func (store *WorkingStore) Delete(id string) bool {
	store.removeFromOrder(id)

	if _, ok := store.entries[id]; ok {
		delete(store.entries, id)
		return true
	}

	return false
}

// Search scores entries by token overlap with the query and returns up
// to maxResults matches, best first. Entries with no overlap are
// omitted.
func (store *WorkingStore) Search(query string, maxResults int) []*Entry {
	queryWords := strings.Fields(strings.ToLower(query))

	type scored struct {
		score float64
		entry *Entry
	}

	var results []scored

	for _, entry := range store.entries {
		score := textSimilarity(entry.Content, queryWords)
		if score > 0.0 {
			results = append(results, scored{score: score, entry: entry.Clone()})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	out := make([]*Entry, 0, len(results))
	for _, r := range results {
		out = append(out, r.entry)
	}

	return out
}

// textSimilarity is the fraction of query words found in the content.
// A content word matches on equality, or by containment when the query
// word has at least three characters.
func textSimilarity(content string, queryWords []string) float64 {
	contentWords := strings.Fields(strings.ToLower(content))

	if len(queryWords) == 0 || len(contentWords) == 0 {
		return 0.0
	}

	matches := 0

	for _, qw := range queryWords {
		for _, cw := range contentWords {
			if cw == qw || (strings.Contains(cw, qw) && len(qw) >= 3) {
				matches++
				break
			}
		}
	}

	return float64(matches) / float64(len(queryWords))
}

// All returns copies of every entry in no particular order.
func (store *WorkingStore) All() []*Entry {
	out := make([]*Entry, 0, len(store.entries))

	for _, entry := range store.entries {
		out = append(out, entry.Clone())
	}

	return out
}

// Recent returns copies of up to limit entries, most recently used
// first.
func (store *WorkingStore) Recent(limit int) []*Entry {
	out := make([]*Entry, 0, limit)

	for i := len(store.accessOrder) - 1; i >= 0 && len(out) < limit; i-- {
		if entry, ok := store.entries[store.accessOrder[i]]; ok {
			out = append(out, entry.Clone())
		}
	}

	return out
}

// ApplyDecay decays every entry by the elapsed hours and removes those
// whose importance fell below the threshold. Returns the removal count.
func (store *WorkingStore) ApplyDecay(hours, threshold float64) int {
	var toRemove []string

	for id, entry := range store.entries {
		entry.ApplyDecay(hours)
		if entry.Importance < threshold {
			toRemove = append(toRemove, id)
		}
	}

	for _, id := range toRemove {
		delete(store.entries, id)
		store.removeFromOrder(id)
	}

	return len(toRemove)
}

// Clear removes all entries.
func (store *WorkingStore) Clear() {
	store.entries = make(map[string]*Entry)
	store.accessOrder = []string{}
}

// Len returns the number of entries.
func (store *WorkingStore) Len() int {
	return len(store.entries)
}

// Capacity returns the maximum number of entries.
func (store *WorkingStore) Capacity() int {
	return store.capacity
}

// Promotable returns copies of entries meeting the promotion criteria
// without removing them.
func (store *WorkingStore) Promotable(minImportance float64, minAccessCount uint64) []*Entry {
	var out []*Entry

	for _, entry := range store.entries {
		if entry.Importance >= minImportance && entry.AccessCount >= minAccessCount {
			out = append(out, entry.Clone())
		}
	}

	return out
}

// DrainPromotable removes and returns the entries meeting the promotion
// criteria.
func (store *WorkingStore) DrainPromotable(minImportance float64, minAccessCount uint64) []*Entry {
	var promotableIDs []string

	for id, entry := range store.entries {
		if entry.Importance >= minImportance && entry.AccessCount >= minAccessCount {
			promotableIDs = append(promotableIDs, id)
		}
	}

	promoted := make([]*Entry, 0, len(promotableIDs))

	for _, id := range promotableIDs {
		if entry, ok := store.entries[id]; ok {
			delete(store.entries, id)
			store.removeFromOrder(id)
			promoted = append(promoted, entry)
		}
	}

	return promoted
}

func (store *WorkingStore) evictOldest() *Entry {
	if len(store.accessOrder) == 0 {
		return nil
	}

	oldestID := store.accessOrder[0]
	store.accessOrder = store.accessOrder[1:]

	entry := store.entries[oldestID]
	delete(store.entries, oldestID)

	return entry
}

func (store *WorkingStore) removeFromOrder(id string) {
	for i, existing := range store.accessOrder {
		if existing == id {
			store.accessOrder = append(store.accessOrder[:i], store.accessOrder[i+1:]...)
			return
		}
	}
}
