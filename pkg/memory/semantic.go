package memory

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/theapemachine/mnemo/pkg/errors"
)

/*
SemanticStore holds long-term knowledge with vector search. Each entry's
embedding lives beside it in a separate index. When an entry arrives
without one, a deterministic hash embedding is generated unless the
store was built to require real embeddings. Eviction removes the entry
with the lowest current relevance, never the least recently used. Not
safe for concurrent use, the manager serializes access.
*/
type SemanticStore struct {
	entries           map[string]*Entry
	embeddings        map[string][]float32
	maxEntries        int
	embeddingDim      int
	requireEmbeddings bool
	accessOrder       []string
	clock             Clock
}

// NewSemanticStore creates a semantic store holding up to maxEntries
// entries with embeddings of the given dimension.
func NewSemanticStore(maxEntries, embeddingDim int, clock Clock) *SemanticStore {
	return &SemanticStore{
		entries:      make(map[string]*Entry),
		embeddings:   make(map[string][]float32),
		maxEntries:   maxEntries,
		embeddingDim: embeddingDim,
		accessOrder:  []string{},
		clock:        clock,
	}
}

// WithRequireEmbeddings makes storing an entry without an embedding an
// error instead of generating a fallback.
func (store *SemanticStore) WithRequireEmbeddings(require bool) *SemanticStore {
	store.requireEmbeddings = require
	return store
}

// Store inserts or replaces an entry, retagging non-semantic and
// non-procedural types to semantic. The entry's embedding moves into
// the vector index; a mismatched dimension is rejected. Validation
// runs first, a rejected entry and the store are left untouched.
func (store *SemanticStore) Store(entry *Entry) (string, error) {
	id := entry.ID
	embedding := entry.Embedding

	if embedding == nil {
		if store.requireEmbeddings {
			return "", errors.ErrEmbedding.WithTier("semantic").WithMessagef(
				"entry %s has no embedding and fallback generation is disabled", id,
			)
		}

		embedding = store.generateEmbedding(entry.Content)
	}

	if len(embedding) != store.embeddingDim {
		return "", errors.ErrVector.WithTier("semantic").WithMessagef(
			"expected %d dimensions, got %d", store.embeddingDim, len(embedding),
		)
	}

	if entry.Type != TypeSemantic && entry.Type != TypeProcedural {
		entry.Type = TypeSemantic
		entry.DecayFactor = TypeSemantic.DefaultDecayFactor()
	}

	if _, exists := store.entries[id]; !exists {
		for len(store.entries) >= store.maxEntries {
			if !store.evictLeastRelevant() {
				break
			}
		}
	}

	entry.Embedding = nil
	store.removeFromOrder(id)
	store.entries[id] = entry
	store.embeddings[id] = embedding
	store.accessOrder = append(store.accessOrder, id)

	return id, nil
}

// Get returns a copy of the entry, or nil when absent.
func (store *SemanticStore) Get(id string) *Entry {
	if entry, ok := store.entries[id]; ok {
		return entry.Clone()
	}

	return nil
}

// GetAndTouch returns a copy of the entry after recording an access.
func (store *SemanticStore) GetAndTouch(id string, now time.Time) *Entry {
	entry, ok := store.entries[id]
	if !ok {
		return nil
	}

	entry.RecordAccess(now)
	store.removeFromOrder(id)
	store.accessOrder = append(store.accessOrder, id)

	return entry.Clone()
}

// Delete removes an entry and its embedding, reporting whether it
// existed.
func (store *SemanticStore) Delete(id string) bool {
	store.removeFromOrder(id)
	delete(store.embeddings, id)

	if _, ok := store.entries[id]; ok {
		delete(store.entries, id)
		return true
	}

	return false
}

// Search embeds the query with the fallback generator and delegates to
// SearchWithEmbedding.
func (store *SemanticStore) Search(query string, ctx RecallContext) []*Entry {
	return store.SearchWithEmbedding(store.generateEmbedding(query), query, ctx)
}

// SearchWithEmbedding scores entries by cosine similarity against the
// query embedding, boosted by lexical overlap and current relevance,
// honoring the context's type and owner filters.
func (store *SemanticStore) SearchWithEmbedding(queryEmbedding []float32, queryText string, ctx RecallContext) []*Entry {
	queryWords := strings.Fields(strings.ToLower(queryText))
	now := store.clock.Now()

	type scored struct {
		score float64
		entry *Entry
	}

	var results []scored

	for id, entry := range store.entries {
		switch entry.Type {
		case TypeSemantic:
			if !ctx.IncludeSemantic {
				continue
			}
		case TypeProcedural:
			if !ctx.IncludeProcedural {
				continue
			}
		default:
			continue
		}

		if !ctx.Matches(entry) {
			continue
		}

		entryEmbedding, ok := store.embeddings[id]
		if !ok {
			continue
		}

		vectorSim := cosineSimilarity(queryEmbedding, entryEmbedding)
		textSim := episodicSimilarity(entry.Content, queryWords)

		score := vectorSim*ctx.SimilarityWeight +
			textSim*0.3 +
			entry.RelevanceScore(now)*ctx.ImportanceWeight

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

// Neighbor pairs an entry with its similarity to a query embedding.
type Neighbor struct {
	Similarity float64
	Entry      *Entry
}

// KNN returns the k entries closest to the embedding by cosine
// similarity.
func (store *SemanticStore) KNN(embedding []float32, k int) []Neighbor {
	var results []Neighbor

	for id, entry := range store.entries {
		entryEmbedding, ok := store.embeddings[id]
		if !ok {
			continue
		}

		results = append(results, Neighbor{
			Similarity: cosineSimilarity(embedding, entryEmbedding),
			Entry:      entry.Clone(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > k {
		results = results[:k]
	}

	return results
}

// ByType returns copies of all entries of the given type.
func (store *SemanticStore) ByType(memoryType Type) []*Entry {
	var out []*Entry

	for _, entry := range store.entries {
		if entry.Type == memoryType {
			out = append(out, entry.Clone())
		}
	}

	return out
}

// ByTags returns copies of entries carrying any of the given tags.
func (store *SemanticStore) ByTags(tags []string) []*Entry {
	var out []*Entry

	for _, entry := range store.entries {
		for _, tag := range tags {
			if entry.Metadata.HasTag(tag) {
				out = append(out, entry.Clone())
				break
			}
		}
	}

	return out
}

// All returns copies of every entry with their embeddings reattached,
// suitable for export.
func (store *SemanticStore) All() []*Entry {
	out := make([]*Entry, 0, len(store.entries))

	for id, entry := range store.entries {
		cp := entry.Clone()
		if embedding, ok := store.embeddings[id]; ok {
			cp.Embedding = append([]float32(nil), embedding...)
		}
		out = append(out, cp)
	}

	return out
}

// ApplyDecay decays every entry by the elapsed hours and removes those
// whose importance fell below the threshold. Returns the removal count.
func (store *SemanticStore) ApplyDecay(hours, threshold float64) int {
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

	return len(toRemove)
}

// Clear removes all entries and embeddings.
func (store *SemanticStore) Clear() {
	store.entries = make(map[string]*Entry)
	store.embeddings = make(map[string][]float32)
	store.accessOrder = []string{}
}

// Len returns the number of entries.
func (store *SemanticStore) Len() int {
	return len(store.entries)
}

// EmbeddingDim returns the configured embedding dimension.
func (store *SemanticStore) EmbeddingDim() int {
	return store.embeddingDim
}

// GetEmbedding returns a copy of an entry's embedding, or nil.
func (store *SemanticStore) GetEmbedding(id string) []float32 {
	if embedding, ok := store.embeddings[id]; ok {
		return append([]float32(nil), embedding...)
	}

	return nil
}

// UpdateEmbedding replaces an entry's embedding, reporting whether the
// entry exists. A mismatched dimension is rejected.
func (store *SemanticStore) UpdateEmbedding(id string, embedding []float32) (bool, error) {
	if len(embedding) != store.embeddingDim {
		return false, errors.ErrVector.WithTier("semantic").WithMessagef(
			"expected %d dimensions, got %d", store.embeddingDim, len(embedding),
		)
	}

	if _, ok := store.entries[id]; !ok {
		return false, nil
	}

	store.embeddings[id] = embedding
	return true, nil
}

// generateEmbedding derives a deterministic unit vector from text. It
// is a stand-in for a real model, queries and content hash the same
// way so overlapping words still land near each other.
func (store *SemanticStore) generateEmbedding(text string) []float32 {
	embedding := make([]float32, store.embeddingDim)
	words := strings.Fields(strings.ToLower(text))
	dim := uint64(store.embeddingDim)

	for i, word := range words {
		hash := simpleHash(word)
		idx1 := hash % dim
		idx2 := (hash / 7) % dim
		idx3 := (hash / 13) % dim

		positionWeight := 1.0 / (1.0 + float32(i)*0.1)
		lengthFactor := float32(math.Sqrt(float64(len(word)))) / 3.0

		embedding[idx1] += positionWeight * lengthFactor
		embedding[idx2] += positionWeight * 0.5
		embedding[idx3] -= positionWeight * 0.3
	}

	normalize(embedding)

	return embedding
}

func (store *SemanticStore) evictLeastRelevant() bool {
	now := store.clock.Now()

	var evictID string
	lowest := 0.0
	found := false

	for id, entry := range store.entries {
		score := entry.RelevanceScore(now)
		if !found || score < lowest {
			evictID = id
			lowest = score
			found = true
		}
	}

	if !found {
		return false
	}

	return store.Delete(evictID)
}

func (store *SemanticStore) removeFromOrder(id string) {
	for i, existing := range store.accessOrder {
		if existing == id {
			store.accessOrder = append(store.accessOrder[:i], store.accessOrder[i+1:]...)
			return
		}
	}
}

// cosineSimilarity returns 0 for mismatched or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64

	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func normalize(v []float32) {
	var sum float32

	for _, x := range v {
		sum += x * x
	}

	norm := float32(math.Sqrt(float64(sum)))
	if norm > 0.0 {
		for i := range v {
			v[i] /= norm
		}
	}
}

func simpleHash(s string) uint64 {
	hash := uint64(5381)

	for _, c := range []byte(s) {
		hash = hash*33 + uint64(c)
	}

	return hash
}
