package memory

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ConsolidationConfig tunes promotion, pruning and merging across the
// tiers.
type ConsolidationConfig struct {
	WorkingToEpisodicImportance  float64 `json:"working_to_episodic_importance"`
	WorkingToEpisodicAccess      uint64  `json:"working_to_episodic_access"`
	EpisodicToSemanticImportance float64 `json:"episodic_to_semantic_importance"`
	EpisodicToSemanticAccess     uint64  `json:"episodic_to_semantic_access"`
	MinAgeForSemanticHours       float64 `json:"min_age_for_semantic_hours"`
	PruneLowImportance           bool    `json:"prune_low_importance"`
	PruneThreshold               float64 `json:"prune_threshold"`
	MergeSimilar                 bool    `json:"merge_similar"`
	MergeSimilarityThreshold     float64 `json:"merge_similarity_threshold"`
}

// DefaultConsolidationConfig returns the standard promotion policy.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		WorkingToEpisodicImportance:  0.5,
		WorkingToEpisodicAccess:      2,
		EpisodicToSemanticImportance: 0.7,
		EpisodicToSemanticAccess:     5,
		MinAgeForSemanticHours:       24.0,
		PruneLowImportance:           true,
		PruneThreshold:               0.1,
		MergeSimilar:                 false,
		MergeSimilarityThreshold:     0.9,
	}
}

// AggressiveConsolidationConfig promotes sooner and prunes harder.
func AggressiveConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		WorkingToEpisodicImportance:  0.3,
		WorkingToEpisodicAccess:      1,
		EpisodicToSemanticImportance: 0.5,
		EpisodicToSemanticAccess:     3,
		MinAgeForSemanticHours:       1.0,
		PruneLowImportance:           true,
		PruneThreshold:               0.05,
		MergeSimilar:                 true,
		MergeSimilarityThreshold:     0.85,
	}
}

// ConservativeConsolidationConfig promotes later and never prunes.
func ConservativeConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		WorkingToEpisodicImportance:  0.7,
		WorkingToEpisodicAccess:      5,
		EpisodicToSemanticImportance: 0.85,
		EpisodicToSemanticAccess:     10,
		MinAgeForSemanticHours:       72.0,
		PruneLowImportance:           false,
		PruneThreshold:               0.05,
		MergeSimilar:                 false,
		MergeSimilarityThreshold:     0.95,
	}
}

/*
Consolidator moves entries up the tier ladder. Promotion criteria are
importance and access count; episodic entries additionally need age
before reaching the semantic store. A promoted entry is written to its
destination before it disappears from the source view, a failed
promotion leans toward duplication rather than loss.
*/
type Consolidator struct {
	threshold          int
	config             ConsolidationConfig
	consolidationCount uint64
	clock              Clock
}

// NewConsolidator creates a consolidator triggering at threshold
// working entries, with the default policy.
func NewConsolidator(threshold int, clock Clock) *Consolidator {
	return &Consolidator{
		threshold: threshold,
		config:    DefaultConsolidationConfig(),
		clock:     clock,
	}
}

// NewConsolidatorWithConfig creates a consolidator with a custom
// policy.
func NewConsolidatorWithConfig(threshold int, config ConsolidationConfig, clock Clock) *Consolidator {
	return &Consolidator{
		threshold: threshold,
		config:    config,
		clock:     clock,
	}
}

// Threshold returns the working-count trigger.
func (consolidator *Consolidator) Threshold() int {
	return consolidator.threshold
}

// ConsolidationCount returns how many passes have run.
func (consolidator *Consolidator) ConsolidationCount() uint64 {
	return consolidator.consolidationCount
}

// ShouldConsolidate reports whether the working count has reached the
// trigger.
func (consolidator *Consolidator) ShouldConsolidate(workingCount int) bool {
	return workingCount >= consolidator.threshold
}

// Config returns the active policy.
func (consolidator *Consolidator) Config() ConsolidationConfig {
	return consolidator.config
}

// SetConfig replaces the policy.
func (consolidator *Consolidator) SetConfig(config ConsolidationConfig) {
	consolidator.config = config
}

// Consolidate runs one pass: working entries meeting the criteria move
// to episodic, episodic entries meeting the criteria and the age gate
// move to semantic or procedural, similar entries optionally merge at
// the destination, and low-importance working entries are pruned.
// Calling it again with no intervening writes is a no-op.
func (consolidator *Consolidator) Consolidate(
	working *WorkingStore,
	episodic *EpisodicStore,
	semantic *SemanticStore,
) (ConsolidationReport, error) {
	var report ConsolidationReport
	now := consolidator.clock.Now()

	workingPromoted := working.DrainPromotable(
		consolidator.config.WorkingToEpisodicImportance,
		consolidator.config.WorkingToEpisodicAccess,
	)

	for _, entry := range workingPromoted {
		if consolidator.config.PruneLowImportance && entry.Importance < consolidator.config.PruneThreshold {
			report.Removed++
			continue
		}

		entry.Type = TypeEpisodic
		entry.DecayFactor = TypeEpisodic.DefaultDecayFactor()

		if _, err := episodic.Store(entry); err != nil {
			return report, err
		}

		report.WorkingToEpisodic++
	}

	episodicPromoted := episodic.DrainPromotable(
		consolidator.config.EpisodicToSemanticImportance,
		consolidator.config.EpisodicToSemanticAccess,
	)

	for _, entry := range episodicPromoted {
		ageHours := now.Sub(entry.CreatedAt).Hours()

		if ageHours < consolidator.config.MinAgeForSemanticHours {
			entry.Type = TypeEpisodic
			if _, err := episodic.Store(entry); err != nil {
				return report, err
			}
			continue
		}

		if isProcedural(entry) {
			entry.Type = TypeProcedural
			entry.DecayFactor = TypeProcedural.DefaultDecayFactor()
		} else {
			entry.Type = TypeSemantic
			entry.DecayFactor = TypeSemantic.DefaultDecayFactor()
		}

		if consolidator.config.MergeSimilar {
			if merged := consolidator.mergeIntoStore(semantic, entry); merged {
				report.Merged++
				continue
			}
		}

		if _, err := semantic.Store(entry); err != nil {
			// Put the entry back rather than losing it.
			entry.Type = TypeEpisodic
			episodic.Store(entry)
			return report, err
		}

		report.PromotedToSemantic++
	}

	if consolidator.config.PruneLowImportance {
		for _, entry := range working.All() {
			if entry.Importance < consolidator.config.PruneThreshold {
				working.Delete(entry.ID)
				report.Removed++
			}
		}
	}

	consolidator.consolidationCount++

	log.Debug("consolidation pass complete",
		"working_to_episodic", report.WorkingToEpisodic,
		"promoted_to_semantic", report.PromotedToSemantic,
		"merged", report.Merged,
		"removed", report.Removed,
	)

	return report, nil
}

// mergeIntoStore folds the incoming entry into a sufficiently similar
// existing entry, reporting whether a merge happened.
func (consolidator *Consolidator) mergeIntoStore(semantic *SemanticStore, entry *Entry) bool {
	for _, existing := range semantic.ByType(entry.Type) {
		if EntrySimilarity(existing, entry) >= consolidator.config.MergeSimilarityThreshold {
			merged := MergeEntries(existing, entry)
			merged.ID = existing.ID

			// Keep the merged entry in the same vector space as its
			// parts: prefer the incoming embedding, else the base's.
			if merged.Embedding == nil {
				merged.Embedding = entry.Embedding
			}
			if merged.Embedding == nil {
				merged.Embedding = semantic.GetEmbedding(existing.ID)
			}

			if _, err := semantic.Store(merged); err != nil {
				log.Error("failed to merge entries", "error", err, "target", existing.ID)
				return false
			}

			return true
		}
	}

	return false
}

// isProcedural routes skill-like entries to the procedural tier.
func isProcedural(entry *Entry) bool {
	if entry.Metadata.HasTag("skill") || entry.Metadata.HasTag("procedure") {
		return true
	}

	return entry.Metadata.Source == SourceToolResult && entry.Metadata.HasTag("procedural")
}

// MergeEntries combines two entries, keeping the more important one as
// the base. Access counts sum, tags union, and the result keeps the
// oldest creation and newest access times.
func MergeEntries(entry1, entry2 *Entry) *Entry {
	base, other := entry1, entry2
	if entry2.Importance > entry1.Importance {
		base, other = entry2, entry1
	}

	merged := base.Clone()

	if base.Content != other.Content {
		merged.Content = base.Content + "\n\n[Related:]\n" + other.Content
	}

	if other.Importance > merged.Importance {
		merged.Importance = other.Importance
	}

	merged.AccessCount = base.AccessCount + other.AccessCount

	merged.CreatedAt = minTime(base.CreatedAt, other.CreatedAt)
	merged.AccessedAt = maxTime(base.AccessedAt, other.AccessedAt)

	for _, tag := range other.Metadata.Tags {
		if !merged.Metadata.HasTag(tag) {
			merged.Metadata.Tags = append(merged.Metadata.Tags, tag)
		}
	}

	if other.Metadata.Confidence > merged.Metadata.Confidence {
		merged.Metadata.Confidence = other.Metadata.Confidence
	}

	return merged
}

// EntrySimilarity is the Jaccard similarity of the two entries' word
// sets.
func EntrySimilarity(entry1, entry2 *Entry) float64 {
	words1 := wordSet(entry1.Content)
	words2 := wordSet(entry2.Content)

	if len(words1) == 0 || len(words2) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range words1 {
		if _, ok := words2[w]; ok {
			intersection++
		}
	}

	union := len(words1) + len(words2) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}

func wordSet(content string) map[string]struct{} {
	set := map[string]struct{}{}

	for _, w := range strings.Fields(strings.ToLower(content)) {
		set[w] = struct{}{}
	}

	return set
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
