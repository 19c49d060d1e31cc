package memory

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/mnemo/pkg/errors"
)

// Embedder produces a vector for a piece of text. Adapters for real
// providers live outside this package; nil is a valid embedder and
// falls back to the semantic store's deterministic generator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithClock injects a clock, primarily for tests.
func WithClock(clock Clock) ManagerOption {
	return func(manager *Manager) {
		manager.clock = clock
	}
}

// WithEmbedder attaches an embedding service used for semantic and
// procedural entries that arrive without a vector.
func WithEmbedder(embedder Embedder) ManagerOption {
	return func(manager *Manager) {
		manager.embedder = embedder
	}
}

// WithConsolidationConfig overrides the promotion policy.
func WithConsolidationConfig(config ConsolidationConfig) ManagerOption {
	return func(manager *Manager) {
		manager.consolidationConfig = &config
	}
}

/*
Manager fronts the three tiered stores behind one concurrent API. Each
store has its own RWMutex, and every code path that needs more than one
acquires them in the fixed order working, episodic, semantic. Recall
holds at most one lock at a time; consolidation holds all three.
Embedding generation happens before any lock is taken.
*/
type Manager struct {
	workingMu  sync.RWMutex
	episodicMu sync.RWMutex
	semanticMu sync.RWMutex

	working  *WorkingStore
	episodic *EpisodicStore
	semantic *SemanticStore

	consolidator *Consolidator
	retriever    *Retriever

	config              Config
	consolidationConfig *ConsolidationConfig
	clock               Clock
	embedder            Embedder
}

// NewManager validates the configuration and builds the tiered stores.
func NewManager(config Config, options ...ManagerOption) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	manager := &Manager{
		config: config,
		clock:  SystemClock(),
	}

	for _, option := range options {
		option(manager)
	}

	manager.working = NewWorkingStore(config.MaxWorkingMemory)
	manager.episodic = NewEpisodicStore(config.MaxEpisodicPerSession, manager.clock)
	manager.semantic = NewSemanticStore(config.MaxSemanticMemories, config.EmbeddingDimension, manager.clock).
		WithRequireEmbeddings(config.RequireEmbeddings)

	if manager.consolidationConfig != nil {
		manager.consolidator = NewConsolidatorWithConfig(config.ConsolidationThreshold, *manager.consolidationConfig, manager.clock)
	} else {
		manager.consolidator = NewConsolidator(config.ConsolidationThreshold, manager.clock)
	}

	manager.retriever = NewRetriever(manager.clock)

	return manager, nil
}

// Config returns the manager's configuration.
func (manager *Manager) Config() Config {
	return manager.config
}

// Store routes an entry to its tier by type and returns its id. When
// the working store reaches the consolidation threshold, a
// consolidation pass runs before returning.
func (manager *Manager) Store(ctx context.Context, entry *Entry) (string, error) {
	if !entry.Type.Valid() {
		return "", errors.ErrInvalidMemoryType.WithMessagef("unknown memory type %q", entry.Type)
	}

	if err := manager.ensureEmbedding(ctx, entry); err != nil {
		return "", err
	}

	switch entry.Type {
	case TypeWorking:
		manager.workingMu.Lock()
		id, err := manager.working.Store(entry)
		needsConsolidation := err == nil && manager.consolidator.ShouldConsolidate(manager.working.Len())
		manager.workingMu.Unlock()

		if err != nil {
			return "", err
		}

		if needsConsolidation {
			if _, err := manager.Consolidate(ctx); err != nil {
				return "", err
			}
		}

		return id, nil

	case TypeEpisodic:
		manager.episodicMu.Lock()
		defer manager.episodicMu.Unlock()
		return manager.episodic.Store(entry)

	default:
		manager.semanticMu.Lock()
		defer manager.semanticMu.Unlock()
		return manager.semantic.Store(entry)
	}
}

// ensureEmbedding generates a vector for semantic and procedural
// entries before any lock is taken. Embedding failures surface as
// retryable or permanent embedding errors, never as partial writes.
func (manager *Manager) ensureEmbedding(ctx context.Context, entry *Entry) error {
	if manager.embedder == nil || entry.Embedding != nil {
		return nil
	}

	if entry.Type != TypeSemantic && entry.Type != TypeProcedural {
		return nil
	}

	embedding, err := manager.embedder.Embed(ctx, entry.Content)
	if err != nil {
		log.Error("embedding generation failed", "error", err, "entry", entry.ID)
		return errors.ErrEmbedding.Wrap(err)
	}

	entry.Embedding = embedding

	return nil
}

// Recall searches the tiers enabled in the context and reranks the
// union. Each store lock is held only while that store is searched. A
// failure in any tier fails the whole recall, results are never
// silently partial.
func (manager *Manager) Recall(ctx context.Context, query string, recallCtx RecallContext) ([]*Entry, error) {
	if query == "" {
		return nil, errors.ErrInvalidQuery.WithMessagef("query must not be empty")
	}

	var queryEmbedding []float32

	if manager.embedder != nil && (recallCtx.IncludeSemantic || recallCtx.IncludeProcedural) {
		embedding, err := manager.embedder.Embed(ctx, query)
		if err != nil {
			log.Error("query embedding failed", "error", err)
			return nil, errors.ErrEmbedding.WithTier("semantic").Wrap(err)
		}
		queryEmbedding = embedding
	}

	var results []*Entry

	if recallCtx.IncludeWorking {
		manager.workingMu.RLock()
		results = append(results, manager.working.Search(query, recallCtx.MaxResults)...)
		manager.workingMu.RUnlock()
	}

	if recallCtx.IncludeEpisodic {
		manager.episodicMu.RLock()
		results = append(results, manager.episodic.Search(query, recallCtx)...)
		manager.episodicMu.RUnlock()
	}

	if recallCtx.IncludeSemantic || recallCtx.IncludeProcedural {
		manager.semanticMu.RLock()
		if queryEmbedding != nil {
			results = append(results, manager.semantic.SearchWithEmbedding(queryEmbedding, query, recallCtx)...)
		} else {
			results = append(results, manager.semantic.Search(query, recallCtx)...)
		}
		manager.semanticMu.RUnlock()
	}

	return manager.retriever.Rerank(results, query, recallCtx), nil
}

// Get probes the tiers in fixed order and returns a copy of the entry,
// or nil when no tier holds it. Reads do not count as accesses.
func (manager *Manager) Get(id string) *Entry {
	manager.workingMu.RLock()
	entry := manager.working.Get(id)
	manager.workingMu.RUnlock()

	if entry != nil {
		return entry
	}

	manager.episodicMu.RLock()
	entry = manager.episodic.Get(id)
	manager.episodicMu.RUnlock()

	if entry != nil {
		return entry
	}

	manager.semanticMu.RLock()
	defer manager.semanticMu.RUnlock()
	return manager.semantic.Get(id)
}

// GetAndTouch is Get with access recording, refreshing recency and
// rewarding importance in whichever tier holds the entry.
func (manager *Manager) GetAndTouch(id string) *Entry {
	now := manager.clock.Now()

	manager.workingMu.Lock()
	entry := manager.working.GetAndTouch(id, now)
	manager.workingMu.Unlock()

	if entry != nil {
		return entry
	}

	manager.episodicMu.Lock()
	entry = manager.episodic.GetAndTouch(id, now)
	manager.episodicMu.Unlock()

	if entry != nil {
		return entry
	}

	manager.semanticMu.Lock()
	defer manager.semanticMu.Unlock()
	return manager.semantic.GetAndTouch(id, now)
}

// Delete removes the entry from whichever tier holds it, reporting
// whether anything was removed.
func (manager *Manager) Delete(id string) bool {
	manager.workingMu.Lock()
	deleted := manager.working.Delete(id)
	manager.workingMu.Unlock()

	if deleted {
		return true
	}

	manager.episodicMu.Lock()
	deleted = manager.episodic.Delete(id)
	manager.episodicMu.Unlock()

	if deleted {
		return true
	}

	manager.semanticMu.Lock()
	defer manager.semanticMu.Unlock()
	return manager.semantic.Delete(id)
}

// Consolidate runs one promotion pass under all three write locks,
// acquired in the fixed order. With an embedder attached, episodic
// promotion candidates are embedded first so entries reaching the
// semantic store share one vector space with directly stored entries.
func (manager *Manager) Consolidate(ctx context.Context) (ConsolidationReport, error) {
	if err := manager.embedPromotable(ctx); err != nil {
		return ConsolidationReport{}, err
	}

	manager.workingMu.Lock()
	defer manager.workingMu.Unlock()
	manager.episodicMu.Lock()
	defer manager.episodicMu.Unlock()
	manager.semanticMu.Lock()
	defer manager.semanticMu.Unlock()

	report, err := manager.consolidator.Consolidate(manager.working, manager.episodic, manager.semantic)
	if err != nil {
		return report, errors.ErrConsolidation.Wrap(err)
	}

	return report, nil
}

// embedPromotable generates vectors for episodic entries that meet the
// semantic promotion criteria and do not carry one yet. Embedding
// happens before any write lock; a failure aborts the pass so no entry
// reaches the semantic store with a vector from the wrong space.
func (manager *Manager) embedPromotable(ctx context.Context) error {
	if manager.embedder == nil {
		return nil
	}

	config := manager.consolidator.Config()

	manager.episodicMu.RLock()
	candidates := manager.episodic.Promotable(
		config.EpisodicToSemanticImportance,
		config.EpisodicToSemanticAccess,
	)
	manager.episodicMu.RUnlock()

	embeddings := make(map[string][]float32, len(candidates))

	for _, candidate := range candidates {
		if candidate.Embedding != nil {
			continue
		}

		embedding, err := manager.embedder.Embed(ctx, candidate.Content)
		if err != nil {
			log.Error("embedding promotion candidate failed", "error", err, "entry", candidate.ID)
			return errors.ErrEmbedding.WithTier("episodic").Wrap(err)
		}

		embeddings[candidate.ID] = embedding
	}

	if len(embeddings) == 0 {
		return nil
	}

	manager.episodicMu.Lock()
	for id, embedding := range embeddings {
		manager.episodic.AttachEmbedding(id, embedding)
	}
	manager.episodicMu.Unlock()

	return nil
}

// ApplyDecay sweeps each tier in order, taking one write lock at a
// time, and removes entries whose importance fell below the retention
// floor.
func (manager *Manager) ApplyDecay() DecayReport {
	hours := float64(manager.config.DecayIntervalHours)
	threshold := manager.config.MinImportanceThreshold

	var report DecayReport

	manager.workingMu.Lock()
	report.WorkingRemoved = manager.working.ApplyDecay(hours, threshold)
	manager.workingMu.Unlock()

	manager.episodicMu.Lock()
	report.EpisodicRemoved = manager.episodic.ApplyDecay(hours, threshold)
	manager.episodicMu.Unlock()

	manager.semanticMu.Lock()
	report.SemanticRemoved = manager.semantic.ApplyDecay(hours, threshold)
	manager.semanticMu.Unlock()

	if report.TotalRemoved() > 0 {
		log.Debug("decay sweep complete",
			"working", report.WorkingRemoved,
			"episodic", report.EpisodicRemoved,
			"semantic", report.SemanticRemoved,
		)
	}

	return report
}

// Stats snapshots per-tier counts against capacity.
func (manager *Manager) Stats() Stats {
	manager.workingMu.RLock()
	workingCount := manager.working.Len()
	manager.workingMu.RUnlock()

	manager.episodicMu.RLock()
	episodicCount := manager.episodic.Len()
	manager.episodicMu.RUnlock()

	manager.semanticMu.RLock()
	semanticCount := manager.semantic.Len()
	manager.semanticMu.RUnlock()

	return Stats{
		WorkingCount:     workingCount,
		WorkingCapacity:  manager.config.MaxWorkingMemory,
		EpisodicCount:    episodicCount,
		EpisodicCapacity: manager.config.MaxEpisodicPerSession,
		SemanticCount:    semanticCount,
		SemanticCapacity: manager.config.MaxSemanticMemories,
	}
}

// Clear empties every tier.
func (manager *Manager) Clear() {
	manager.workingMu.Lock()
	defer manager.workingMu.Unlock()
	manager.episodicMu.Lock()
	defer manager.episodicMu.Unlock()
	manager.semanticMu.Lock()
	defer manager.semanticMu.Unlock()

	manager.working.Clear()
	manager.episodic.Clear()
	manager.semantic.Clear()
}

// ClearSession removes one session's episodic entries, returning the
// removal count.
func (manager *Manager) ClearSession(sessionID string) int {
	manager.episodicMu.Lock()
	defer manager.episodicMu.Unlock()
	return manager.episodic.ClearSession(sessionID)
}

// SessionEntries returns one session's episodic entries in insertion
// order.
func (manager *Manager) SessionEntries(sessionID string) []*Entry {
	manager.episodicMu.RLock()
	defer manager.episodicMu.RUnlock()
	return manager.episodic.SessionEntries(sessionID)
}

// Sessions returns bookkeeping for every episodic session.
func (manager *Manager) Sessions() []*Session {
	manager.episodicMu.RLock()
	defer manager.episodicMu.RUnlock()
	return manager.episodic.Sessions()
}

// Export snapshots every entry across the tiers, embeddings included,
// for the persistence boundary.
func (manager *Manager) Export() []*Entry {
	var out []*Entry

	manager.workingMu.RLock()
	out = append(out, manager.working.All()...)
	manager.workingMu.RUnlock()

	manager.episodicMu.RLock()
	out = append(out, manager.episodic.All()...)
	manager.episodicMu.RUnlock()

	manager.semanticMu.RLock()
	out = append(out, manager.semantic.All()...)
	manager.semanticMu.RUnlock()

	return out
}

// Import stores previously exported entries, routing each to its tier.
// It stops at the first failure.
func (manager *Manager) Import(ctx context.Context, entries []*Entry) (int, error) {
	for i, entry := range entries {
		if _, err := manager.Store(ctx, entry); err != nil {
			return i, err
		}
	}

	return len(entries), nil
}
