package memory

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Type partitions entries across the tiered stores.
type Type string

const (
	// TypeSemantic holds facts and knowledge (long-term, slow decay).
	TypeSemantic Type = "semantic"
	// TypeEpisodic holds events and conversations (medium-term).
	TypeEpisodic Type = "episodic"
	// TypeProcedural holds skills and procedures (long-term).
	TypeProcedural Type = "procedural"
	// TypeWorking holds current context (short-term, fast access).
	TypeWorking Type = "working"
)

// DefaultDecayFactor returns the per-day importance retention for a tier.
func (t Type) DefaultDecayFactor() float64 {
	switch t {
	case TypeSemantic:
		return 0.99
	case TypeProcedural:
		return 0.98
	case TypeEpisodic:
		return 0.90
	case TypeWorking:
		return 0.70
	}

	return 0.90
}

func (t Type) String() string {
	return string(t)
}

// Valid reports whether t names one of the four tiers.
func (t Type) Valid() bool {
	switch t {
	case TypeSemantic, TypeEpisodic, TypeProcedural, TypeWorking:
		return true
	}

	return false
}

// Source records the provenance of an entry.
type Source string

const (
	SourceUserInput     Source = "user_input"
	SourceAgentResponse Source = "agent_response"
	SourceToolResult    Source = "tool_result"
	SourceObservation   Source = "observation"
	SourceInference     Source = "inference"
	SourceExternal      Source = "external"
	SourceSystem        Source = "system"
)

func (s Source) String() string {
	return string(s)
}

// RelationType names the kind of edge between two entries.
type RelationType string

const (
	RelationRelatedTo   RelationType = "related_to"
	RelationDerivedFrom RelationType = "derived_from"
	RelationContradicts RelationType = "contradicts"
	RelationSupports    RelationType = "supports"
	RelationPartOf      RelationType = "part_of"
	RelationFollowedBy  RelationType = "followed_by"
	RelationCausedBy    RelationType = "caused_by"
	RelationSimilarTo   RelationType = "similar_to"
)

// Relation is an id-linked edge to another entry. Entries reference each
// other by id only, so deleting a target never dangles a pointer.
type Relation struct {
	TargetID string       `json:"target_id"`
	Type     RelationType `json:"relation_type"`
	Strength float64      `json:"strength"`
}

// NewRelation creates a relation with the strength clamped to [0, 1].
func NewRelation(targetID string, relationType RelationType, strength float64) Relation {
	return Relation{
		TargetID: targetID,
		Type:     relationType,
		Strength: clamp01(strength),
	}
}

// Metadata carries the ownership, provenance and relational context of an
// entry.
type Metadata struct {
	UserID        string         `json:"user_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	ProjectID     string         `json:"project_id,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Source        Source         `json:"source"`
	Confidence    float64        `json:"confidence"`
	Relationships []Relation     `json:"relationships,omitempty"`
	Custom        map[string]any `json:"custom,omitempty"`
}

// NewMetadata returns metadata with full confidence and a system source.
func NewMetadata() Metadata {
	return Metadata{
		Source:     SourceSystem,
		Confidence: 1.0,
	}
}

// WithSource creates metadata attributed to the given source.
func WithSource(source Source) Metadata {
	md := NewMetadata()
	md.Source = source
	return md
}

func (md Metadata) User(userID string) Metadata {
	md.UserID = userID
	return md
}

func (md Metadata) Session(sessionID string) Metadata {
	md.SessionID = sessionID
	return md
}

func (md Metadata) Project(projectID string) Metadata {
	md.ProjectID = projectID
	return md
}

func (md Metadata) Tag(tag string) Metadata {
	md.Tags = append(md.Tags, tag)
	return md
}

func (md Metadata) WithTags(tags ...string) Metadata {
	md.Tags = append(md.Tags, tags...)
	return md
}

func (md Metadata) WithConfidence(confidence float64) Metadata {
	md.Confidence = clamp01(confidence)
	return md
}

func (md Metadata) Relate(relation Relation) Metadata {
	md.Relationships = append(md.Relationships, relation)
	return md
}

func (md Metadata) WithCustom(key string, value any) Metadata {
	if md.Custom == nil {
		md.Custom = map[string]any{}
	}

	md.Custom[key] = value
	return md
}

// HasTag reports whether the metadata carries the given tag.
func (md Metadata) HasTag(tag string) bool {
	for _, t := range md.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

/*
Entry is the unit every store holds. The embedding is optional; stores
that need one generate a fallback when it is absent. Importance and the
decay factor drive retention, access statistics drive ranking.
*/
type Entry struct {
	ID          string    `json:"id"`
	Type        Type      `json:"memory_type"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Metadata    Metadata  `json:"metadata"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount uint64    `json:"access_count"`
	Importance  float64   `json:"importance_score"`
	DecayFactor float64   `json:"decay_factor"`
}

// NewEntry creates an entry with a fresh id, importance 0.5 and the
// tier's default decay factor.
func NewEntry(memoryType Type, content string) *Entry {
	now := time.Now().UTC()

	return &Entry{
		ID:          uuid.NewString(),
		Type:        memoryType,
		Content:     content,
		Metadata:    NewMetadata(),
		CreatedAt:   now,
		AccessedAt:  now,
		Importance:  0.5,
		DecayFactor: memoryType.DefaultDecayFactor(),
	}
}

func (entry *Entry) WithID(id string) *Entry {
	entry.ID = id
	return entry
}

func (entry *Entry) WithMetadata(metadata Metadata) *Entry {
	entry.Metadata = metadata
	return entry
}

func (entry *Entry) WithEmbedding(embedding []float32) *Entry {
	entry.Embedding = embedding
	return entry
}

func (entry *Entry) WithImportance(score float64) *Entry {
	entry.Importance = clamp01(score)
	return entry
}

func (entry *Entry) WithDecay(decay float64) *Entry {
	entry.DecayFactor = clamp01(decay)
	return entry
}

func (entry *Entry) WithCreatedAt(createdAt time.Time) *Entry {
	entry.CreatedAt = createdAt
	entry.AccessedAt = createdAt
	return entry
}

// RecordAccess refreshes the access timestamp, bumps the count and
// rewards the entry with importance, capped at 1.
func (entry *Entry) RecordAccess(now time.Time) {
	entry.AccessedAt = now
	entry.AccessCount++
	entry.Importance = math.Min(entry.Importance+0.1, 1.0)
}

// ApplyDecay multiplies importance by decay^(hours/24).
func (entry *Entry) ApplyDecay(hoursElapsed float64) {
	entry.Importance *= math.Pow(entry.DecayFactor, hoursElapsed/24.0)
}

// RelevanceScore combines importance (0.4), recency of access (0.4) and
// log-scaled access count (0.2), capped at 1.
func (entry *Entry) RelevanceScore(now time.Time) float64 {
	hoursSinceAccess := now.Sub(entry.AccessedAt).Hours()
	recencyFactor := math.Exp(-0.01 * hoursSinceAccess)
	accessFactor := math.Log1p(float64(entry.AccessCount)) / 10.0

	return math.Min(entry.Importance*0.4+recencyFactor*0.4+accessFactor*0.2, 1.0)
}

// Clone returns a deep copy, so callers can hand entries out without
// exposing store-internal state.
func (entry *Entry) Clone() *Entry {
	cp := *entry

	if entry.Embedding != nil {
		cp.Embedding = append([]float32(nil), entry.Embedding...)
	}

	if entry.Metadata.Tags != nil {
		cp.Metadata.Tags = append([]string(nil), entry.Metadata.Tags...)
	}

	if entry.Metadata.Relationships != nil {
		cp.Metadata.Relationships = append([]Relation(nil), entry.Metadata.Relationships...)
	}

	if entry.Metadata.Custom != nil {
		cp.Metadata.Custom = make(map[string]any, len(entry.Metadata.Custom))
		for k, v := range entry.Metadata.Custom {
			cp.Metadata.Custom[k] = v
		}
	}

	return &cp
}

// RecallContext scopes a recall to tiers and owners, and carries the
// ranking weights the retriever combines scores with.
type RecallContext struct {
	UserID            string   `json:"user_id,omitempty"`
	SessionID         string   `json:"session_id,omitempty"`
	ProjectID         string   `json:"project_id,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	IncludeSemantic   bool     `json:"include_semantic"`
	IncludeEpisodic   bool     `json:"include_episodic"`
	IncludeProcedural bool     `json:"include_procedural"`
	IncludeWorking    bool     `json:"include_working"`
	MaxResults        int      `json:"max_results"`
	MinRelevance      float64  `json:"min_relevance"`
	SimilarityWeight  float64  `json:"similarity_weight"`
	RecencyWeight     float64  `json:"recency_weight"`
	ImportanceWeight  float64  `json:"importance_weight"`
	AccessWeight      float64  `json:"access_weight"`
}

// NewRecallContext returns the default context: all tiers, ten results,
// no relevance floor, weights 0.4/0.3/0.2/0.1.
func NewRecallContext() RecallContext {
	return RecallContext{
		IncludeSemantic:   true,
		IncludeEpisodic:   true,
		IncludeProcedural: true,
		IncludeWorking:    true,
		MaxResults:        10,
		SimilarityWeight:  0.4,
		RecencyWeight:     0.3,
		ImportanceWeight:  0.2,
		AccessWeight:      0.1,
	}
}

// SemanticOnly scopes recall to the semantic tier.
func SemanticOnly() RecallContext {
	ctx := NewRecallContext()
	ctx.IncludeEpisodic = false
	ctx.IncludeProcedural = false
	ctx.IncludeWorking = false
	return ctx
}

// WorkingOnly scopes recall to working memory.
func WorkingOnly() RecallContext {
	ctx := NewRecallContext()
	ctx.IncludeSemantic = false
	ctx.IncludeEpisodic = false
	ctx.IncludeProcedural = false
	return ctx
}

// CurrentSession scopes recall to the working and episodic entries of
// one session.
func CurrentSession(sessionID string) RecallContext {
	ctx := NewRecallContext()
	ctx.SessionID = sessionID
	ctx.IncludeSemantic = false
	ctx.IncludeProcedural = false
	return ctx
}

func (ctx RecallContext) ForUser(userID string) RecallContext {
	ctx.UserID = userID
	return ctx
}

func (ctx RecallContext) ForSession(sessionID string) RecallContext {
	ctx.SessionID = sessionID
	return ctx
}

func (ctx RecallContext) ForProject(projectID string) RecallContext {
	ctx.ProjectID = projectID
	return ctx
}

func (ctx RecallContext) WithTags(tags ...string) RecallContext {
	ctx.Tags = append(ctx.Tags, tags...)
	return ctx
}

func (ctx RecallContext) Limit(max int) RecallContext {
	ctx.MaxResults = max
	return ctx
}

func (ctx RecallContext) WithMinRelevance(min float64) RecallContext {
	ctx.MinRelevance = clamp01(min)
	return ctx
}

// Matches reports whether an entry passes the owner and tag filters.
// Empty filters match everything; tags match on any overlap.
func (ctx RecallContext) Matches(entry *Entry) bool {
	if ctx.UserID != "" && entry.Metadata.UserID != ctx.UserID {
		return false
	}

	if ctx.SessionID != "" && entry.Metadata.SessionID != ctx.SessionID {
		return false
	}

	if ctx.ProjectID != "" && entry.Metadata.ProjectID != ctx.ProjectID {
		return false
	}

	if len(ctx.Tags) > 0 {
		found := false

		for _, tag := range ctx.Tags {
			if entry.Metadata.HasTag(tag) {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	WorkingToEpisodic  int `json:"working_to_episodic"`
	PromotedToSemantic int `json:"promoted_to_semantic"`
	Merged             int `json:"merged"`
	Removed            int `json:"removed"`
}

// DecayReport summarizes one decay sweep.
type DecayReport struct {
	WorkingRemoved  int `json:"working_removed"`
	EpisodicRemoved int `json:"episodic_removed"`
	SemanticRemoved int `json:"semantic_removed"`
}

// TotalRemoved sums removals across all tiers.
func (report DecayReport) TotalRemoved() int {
	return report.WorkingRemoved + report.EpisodicRemoved + report.SemanticRemoved
}

// Stats reports per-tier counts against capacity.
type Stats struct {
	WorkingCount     int `json:"working_count"`
	WorkingCapacity  int `json:"working_capacity"`
	EpisodicCount    int `json:"episodic_count"`
	EpisodicCapacity int `json:"episodic_capacity"`
	SemanticCount    int `json:"semantic_count"`
	SemanticCapacity int `json:"semantic_capacity"`
}

// TotalCount sums entries across all tiers.
func (stats Stats) TotalCount() int {
	return stats.WorkingCount + stats.EpisodicCount + stats.SemanticCount
}

// WorkingUtilization returns working memory fill as a fraction of
// capacity.
func (stats Stats) WorkingUtilization() float64 {
	if stats.WorkingCapacity == 0 {
		return 0.0
	}

	return float64(stats.WorkingCount) / float64(stats.WorkingCapacity)
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(v, 1.0))
}
