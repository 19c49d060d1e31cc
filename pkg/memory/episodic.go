package memory

import (
	"sort"
	"strings"
	"time"
)

// Session tracks one conversation's footprint in the episodic store.
type Session struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	LastActive time.Time         `json:"last_active"`
	EntryCount int               `json:"entry_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewSession creates session bookkeeping starting now.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		StartedAt:  now,
		LastActive: now,
		Metadata:   map[string]string{},
	}
}

// Touch refreshes the activity timestamp.
func (session *Session) Touch(now time.Time) {
	session.LastActive = now
}

// Increment counts a stored entry and refreshes activity.
func (session *Session) Increment(now time.Time) {
	session.EntryCount++
	session.Touch(now)
}

// Decrement counts a removed entry, never going negative.
func (session *Session) Decrement() {
	if session.EntryCount > 0 {
		session.EntryCount--
	}
}

// Stale reports whether the session has been idle longer than maxIdle.
func (session *Session) Stale(now time.Time, maxIdle time.Duration) bool {
	return now.Sub(session.LastActive) > maxIdle
}

// defaultSessionID groups entries that arrive without a session.
const defaultSessionID = "default"

/*
EpisodicStore holds session-grouped conversation and event history.
Capacity is enforced per session, with a global ceiling of one hundred
sessions' worth. Entries of other types are retagged to episodic on the
way in. Not safe for concurrent use, the manager serializes access.
*/
type EpisodicStore struct {
	entries          map[string]*Entry
	sessions         map[string]*Session
	sessionEntries   map[string][]string
	maxPerSession    int
	maxTotal         int
	sessionIdleHours int
	clock            Clock
}

// NewEpisodicStore creates an episodic store allowing maxPerSession
// entries per session.
func NewEpisodicStore(maxPerSession int, clock Clock) *EpisodicStore {
	return &EpisodicStore{
		entries:          make(map[string]*Entry),
		sessions:         make(map[string]*Session),
		sessionEntries:   make(map[string][]string),
		maxPerSession:    maxPerSession,
		maxTotal:         maxPerSession * 100,
		sessionIdleHours: 24 * 7,
		clock:            clock,
	}
}

// WithMaxTotal overrides the global entry ceiling.
func (store *EpisodicStore) WithMaxTotal(max int) *EpisodicStore {
	store.maxTotal = max
	return store
}

// WithIdleTimeout overrides the stale-session timeout in hours.
func (store *EpisodicStore) WithIdleTimeout(hours int) *EpisodicStore {
	store.sessionIdleHours = hours
	return store
}

// Store inserts or replaces an entry, retagging it to episodic and
// filing it under its session. Overflow evicts the oldest entry in the
// same session; global overflow evicts the least recently active
// session.
func (store *EpisodicStore) Store(entry *Entry) (string, error) {
	id := entry.ID
	now := store.clock.Now()

	if entry.Type != TypeEpisodic {
		entry.Type = TypeEpisodic
		entry.DecayFactor = TypeEpisodic.DefaultDecayFactor()
	}

	sessionID := entry.Metadata.SessionID
	if sessionID == "" {
		sessionID = defaultSessionID
	}

	previous, exists := store.entries[id]
	sameSession := exists && previous.Metadata.SessionID == sessionID

	if !exists && len(store.entries) >= store.maxTotal {
		store.evictOldestSession()
	}

	session, ok := store.sessions[sessionID]
	if !ok {
		session = NewSession(sessionID, now)
		store.sessions[sessionID] = session
	}

	list := store.sessionEntries[sessionID]

	if !sameSession && len(list) >= store.maxPerSession {
		if len(list) > 0 {
			oldestID := list[0]
			delete(store.entries, oldestID)
			list = list[1:]
			session.Decrement()
		}
	}

	entry.Metadata.SessionID = sessionID

	if sameSession {
		list = removeID(list, id)
	} else {
		if exists {
			// The id moved sessions, detach it from the old one.
			previousSession := previous.Metadata.SessionID
			if previousList, ok := store.sessionEntries[previousSession]; ok {
				store.sessionEntries[previousSession] = removeID(previousList, id)
			}
			if old, ok := store.sessions[previousSession]; ok {
				old.Decrement()
			}
		}

		session.Increment(now)
	}

	store.entries[id] = entry
	store.sessionEntries[sessionID] = append(list, id)
	session.Touch(now)

	return id, nil
}

// AttachEmbedding sets an entry's embedding in place, reporting
// whether the entry exists. Used to give promotion candidates a real
// vector before they leave the episodic tier.
func (store *EpisodicStore) AttachEmbedding(id string, embedding []float32) bool {
	entry, ok := store.entries[id]
	if !ok {
		return false
	}

	entry.Embedding = embedding
	return true
}

// Get returns a copy of the entry, or nil when absent.
func (store *EpisodicStore) Get(id string) *Entry {
	if entry, ok := store.entries[id]; ok {
		return entry.Clone()
	}

	return nil
}

// GetAndTouch returns a copy of the entry after recording an access and
// refreshing its session.
func (store *EpisodicStore) GetAndTouch(id string, now time.Time) *Entry {
	entry, ok := store.entries[id]
	if !ok {
		return nil
	}

	entry.RecordAccess(now)

	if session, ok := store.sessions[entry.Metadata.SessionID]; ok {
		session.Touch(now)
	}

	return entry.Clone()
}

// Delete removes an entry and updates its session bookkeeping,
// reporting whether it existed.
func (store *EpisodicStore) Delete(id string) bool {
	entry, ok := store.entries[id]
	if !ok {
		return false
	}

	delete(store.entries, id)

	sessionID := entry.Metadata.SessionID
	if list, ok := store.sessionEntries[sessionID]; ok {
		store.sessionEntries[sessionID] = removeID(list, id)
	}

	if session, ok := store.sessions[sessionID]; ok {
		session.Decrement()
	}

	return true
}

// Search filters entries by the context's owner and tag filters, then
// scores the remainder by text similarity weighted with current
// relevance. Results below the context's relevance floor are dropped.
func (store *EpisodicStore) Search(query string, ctx RecallContext) []*Entry {
	queryWords := strings.Fields(strings.ToLower(query))
	now := store.clock.Now()

	type scored struct {
		score float64
		entry *Entry
	}

	var results []scored

	for _, entry := range store.entries {
		if !ctx.Matches(entry) {
			continue
		}

		textScore := episodicSimilarity(entry.Content, queryWords)
		relevance := entry.RelevanceScore(now)
		score := textScore*ctx.SimilarityWeight + relevance*ctx.ImportanceWeight

		if score > ctx.MinRelevance {
			results = append(results, scored{score: score, entry: entry.Clone()})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) > ctx.MaxResults {
		results = results[:ctx.MaxResults]
	}

	out := make([]*Entry, 0, len(results))
	for _, r := range results {
		out = append(out, r.entry)
	}

	return out
}

// episodicSimilarity matches query and content words on containment in
// either direction, looser than the working store's matcher because
// episodic content is conversational.
func episodicSimilarity(content string, queryWords []string) float64 {
	contentWords := strings.Fields(strings.ToLower(content))

	if len(queryWords) == 0 || len(contentWords) == 0 {
		return 0.0
	}

	matches := 0

	for _, qw := range queryWords {
		for _, cw := range contentWords {
			if strings.Contains(cw, qw) || strings.Contains(qw, cw) {
				matches++
				break
			}
		}
	}

	return float64(matches) / float64(len(queryWords))
}

// SessionEntries returns copies of a session's entries in insertion
// order.
func (store *EpisodicStore) SessionEntries(sessionID string) []*Entry {
	ids, ok := store.sessionEntries[sessionID]
	if !ok {
		return nil
	}

	out := make([]*Entry, 0, len(ids))

	for _, id := range ids {
		if entry, ok := store.entries[id]; ok {
			out = append(out, entry.Clone())
		}
	}

	return out
}

// SessionRecent returns copies of up to limit entries from a session,
// newest first.
func (store *EpisodicStore) SessionRecent(sessionID string, limit int) []*Entry {
	ids, ok := store.sessionEntries[sessionID]
	if !ok {
		return nil
	}

	out := make([]*Entry, 0, limit)

	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if entry, ok := store.entries[ids[i]]; ok {
			out = append(out, entry.Clone())
		}
	}

	return out
}

// All returns copies of every entry across all sessions.
func (store *EpisodicStore) All() []*Entry {
	out := make([]*Entry, 0, len(store.entries))

	for _, entry := range store.entries {
		out = append(out, entry.Clone())
	}

	return out
}

// Sessions returns a copy of all session bookkeeping.
func (store *EpisodicStore) Sessions() []*Session {
	out := make([]*Session, 0, len(store.sessions))

	for _, session := range store.sessions {
		cp := *session
		out = append(out, &cp)
	}

	return out
}

// SessionInfo returns a copy of one session's bookkeeping, or nil.
func (store *EpisodicStore) SessionInfo(sessionID string) *Session {
	if session, ok := store.sessions[sessionID]; ok {
		cp := *session
		return &cp
	}

	return nil
}

// ApplyDecay decays every entry, removes those below the threshold and
// sweeps out stale empty sessions. Returns the entry removal count.
func (store *EpisodicStore) ApplyDecay(hours, threshold float64) int {
	var toRemove []string

	for id, entry := range store.entries {
		entry.ApplyDecay(hours)
		if entry.Importance < threshold {
			toRemove = append(toRemove, id)
		}
	}

	for _, id := range toRemove {
		store.Delete(id)
	}

	store.cleanupStaleSessions()

	return len(toRemove)
}

func (store *EpisodicStore) cleanupStaleSessions() int {
	maxIdle := time.Duration(store.sessionIdleHours) * time.Hour
	now := store.clock.Now()

	var stale []string

	for id, session := range store.sessions {
		if session.Stale(now, maxIdle) && session.EntryCount == 0 {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		delete(store.sessions, id)
		delete(store.sessionEntries, id)
	}

	return len(stale)
}

// Clear removes all entries and sessions.
func (store *EpisodicStore) Clear() {
	store.entries = make(map[string]*Entry)
	store.sessions = make(map[string]*Session)
	store.sessionEntries = make(map[string][]string)
}

// ClearSession removes one session and all of its entries, returning
// the number of entries removed.
func (store *EpisodicStore) ClearSession(sessionID string) int {
	ids, ok := store.sessionEntries[sessionID]
	if !ok {
		return 0
	}

	for _, id := range ids {
		delete(store.entries, id)
	}

	delete(store.sessionEntries, sessionID)
	delete(store.sessions, sessionID)

	return len(ids)
}

// Len returns the number of entries across all sessions.
func (store *EpisodicStore) Len() int {
	return len(store.entries)
}

// SessionCount returns the number of tracked sessions.
func (store *EpisodicStore) SessionCount() int {
	return len(store.sessions)
}

// Promotable returns copies of entries meeting the promotion criteria
// without removing them.
func (store *EpisodicStore) Promotable(minImportance float64, minAccessCount uint64) []*Entry {
	var out []*Entry

	for _, entry := range store.entries {
		if entry.Importance >= minImportance && entry.AccessCount >= minAccessCount {
			out = append(out, entry.Clone())
		}
	}

	return out
}

// DrainPromotable removes and returns the entries meeting the
// promotion criteria, keeping session bookkeeping consistent.
func (store *EpisodicStore) DrainPromotable(minImportance float64, minAccessCount uint64) []*Entry {
	var promotableIDs []string

	for id, entry := range store.entries {
		if entry.Importance >= minImportance && entry.AccessCount >= minAccessCount {
			promotableIDs = append(promotableIDs, id)
		}
	}

	promoted := make([]*Entry, 0, len(promotableIDs))

	for _, id := range promotableIDs {
		entry, ok := store.entries[id]
		if !ok {
			continue
		}

		delete(store.entries, id)

		sessionID := entry.Metadata.SessionID
		if list, ok := store.sessionEntries[sessionID]; ok {
			store.sessionEntries[sessionID] = removeID(list, id)
		}

		if session, ok := store.sessions[sessionID]; ok {
			session.Decrement()
		}

		promoted = append(promoted, entry)
	}

	return promoted
}

func (store *EpisodicStore) evictOldestSession() {
	var oldestID string
	var oldest time.Time

	for id, session := range store.sessions {
		if oldestID == "" || session.LastActive.Before(oldest) {
			oldestID = id
			oldest = session.LastActive
		}
	}

	if oldestID != "" {
		store.ClearSession(oldestID)
	}
}

func removeID(list []string, id string) []string {
	for i, existing := range list {
		if existing == id {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}
