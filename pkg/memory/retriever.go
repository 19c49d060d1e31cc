package memory

import (
	"math"
	"sort"
	"strings"
)

/*
Retriever reranks candidate entries from any combination of tiers. The
four context weights are normalized to sum to one before combining, so
callers can express relative preferences without keeping them balanced.
Scores multiply by the entry's confidence, and ties break toward the
most recently accessed entry.
*/
type Retriever struct {
	defaultMaxResults int
	recencyBoost      bool
	diversityPenalty  float64
	clock             Clock
}

// NewRetriever creates a retriever with recency boosting and a mild
// diversity penalty.
func NewRetriever(clock Clock) *Retriever {
	return &Retriever{
		defaultMaxResults: 10,
		recencyBoost:      true,
		diversityPenalty:  0.1,
		clock:             clock,
	}
}

// WithMaxResults overrides the default result cap.
func (retriever *Retriever) WithMaxResults(max int) *Retriever {
	retriever.defaultMaxResults = max
	return retriever
}

// WithRecencyBoost toggles the recency component.
func (retriever *Retriever) WithRecencyBoost(enabled bool) *Retriever {
	retriever.recencyBoost = enabled
	return retriever
}

// WithDiversityPenalty sets how strongly near-duplicate results are
// pushed down, from 0 (off) to 1.
func (retriever *Retriever) WithDiversityPenalty(penalty float64) *Retriever {
	retriever.diversityPenalty = clamp01(penalty)
	return retriever
}

// Rerank scores, orders and truncates the candidates for the query.
func (retriever *Retriever) Rerank(entries []*Entry, query string, ctx RecallContext) []*Entry {
	if len(entries) == 0 {
		return nil
	}

	queryWords := strings.Fields(strings.ToLower(query))
	simW, recW, impW, accW := normalizeWeights(ctx)

	type scored struct {
		score float64
		entry *Entry
	}

	list := make([]scored, 0, len(entries))

	for _, entry := range entries {
		textScore := retrievalSimilarity(entry.Content, queryWords)

		recencyScore := 0.5
		if retriever.recencyBoost {
			recencyScore = retriever.recencyScore(entry)
		}

		score := textScore*simW +
			recencyScore*recW +
			entry.Importance*impW +
			accessScore(entry)*accW

		score *= entry.Metadata.Confidence

		list = append(list, scored{score: score, entry: entry})
	}

	sortScored := func() {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].score != list[j].score {
				return list[i].score > list[j].score
			}

			return list[i].entry.AccessedAt.After(list[j].entry.AccessedAt)
		})
	}

	sortScored()

	if retriever.diversityPenalty > 0.0 && len(list) > 1 {
		selected := []string{list[0].entry.Content}

		for i := 1; i < len(list); i++ {
			maxSim := 0.0

			for _, content := range selected {
				if sim := contentSimilarity(list[i].entry.Content, content); sim > maxSim {
					maxSim = sim
				}
			}

			list[i].score *= 1.0 - retriever.diversityPenalty*maxSim
			selected = append(selected, list[i].entry.Content)
		}

		sortScored()
	}

	out := make([]*Entry, 0, ctx.MaxResults)

	for _, item := range list {
		if item.score < ctx.MinRelevance {
			continue
		}

		out = append(out, item.entry)

		if len(out) >= ctx.MaxResults {
			break
		}
	}

	return out
}

// Merge flattens per-tier candidate lists and reranks the union.
func (retriever *Retriever) Merge(sources [][]*Entry, query string, ctx RecallContext) []*Entry {
	var all []*Entry

	for _, source := range sources {
		all = append(all, source...)
	}

	return retriever.Rerank(all, query, ctx)
}

// normalizeWeights scales the four context weights to sum to one. A
// degenerate all-zero context falls back to the defaults.
func normalizeWeights(ctx RecallContext) (sim, rec, imp, acc float64) {
	sum := ctx.SimilarityWeight + ctx.RecencyWeight + ctx.ImportanceWeight + ctx.AccessWeight

	if sum <= 0.0 {
		def := NewRecallContext()
		return def.SimilarityWeight, def.RecencyWeight, def.ImportanceWeight, def.AccessWeight
	}

	return ctx.SimilarityWeight / sum, ctx.RecencyWeight / sum,
		ctx.ImportanceWeight / sum, ctx.AccessWeight / sum
}

// retrievalSimilarity averages the best per-word match: exact 1.0,
// containment 0.7, within two edits 0.5.
func retrievalSimilarity(content string, queryWords []string) float64 {
	if len(queryWords) == 0 {
		return 0.0
	}

	contentWords := strings.Fields(strings.ToLower(content))
	if len(contentWords) == 0 {
		return 0.0
	}

	total := 0.0

	for _, qw := range queryWords {
		best := 0.0

		for _, cw := range contentWords {
			var matchScore float64

			switch {
			case cw == qw:
				matchScore = 1.0
			case strings.Contains(cw, qw) || strings.Contains(qw, cw):
				matchScore = 0.7
			case levenshteinDistance(cw, qw) <= 2:
				matchScore = 0.5
			}

			if matchScore > best {
				best = matchScore
			}
		}

		total += best
	}

	return total / float64(len(queryWords))
}

// recencyScore halves roughly every 24 hours since last access.
func (retriever *Retriever) recencyScore(entry *Entry) float64 {
	hoursSince := retriever.clock.Now().Sub(entry.AccessedAt).Hours()
	return math.Exp(-0.029 * hoursSince)
}

// accessScore grows logarithmically with the access count, capped at 1.
func accessScore(entry *Entry) float64 {
	return math.Min(math.Log(float64(entry.AccessCount)+1.0)/10.0, 1.0)
}

// contentSimilarity is the Jaccard similarity of the word sets.
func contentSimilarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}

	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}

func levenshteinDistance(s1, s2 string) int {
	if s1 == s2 {
		return 0
	}

	r1 := []rune(s1)
	r2 := []rune(s2)

	if len(r1) == 0 {
		return len(r2)
	}

	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)

	for j := range prev {
		prev[j] = j
	}

	for i, c1 := range r1 {
		curr[0] = i + 1

		for j, c2 := range r2 {
			cost := 1
			if c1 == c2 {
				cost = 0
			}

			curr[j+1] = min3(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(r2)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
