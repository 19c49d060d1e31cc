package memory

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRetrieverRerank(t *testing.T) {
	Convey("Given a retriever", t, func() {
		retriever := NewRetriever(SystemClock())

		Convey("Empty input returns empty output", func() {
			So(retriever.Rerank(nil, "query", NewRecallContext()), ShouldBeEmpty)
		})

		Convey("A single entry survives reranking", func() {
			entries := []*Entry{workingEntry("1", "the only memory")}
			results := retriever.Rerank(entries, "memory", NewRecallContext())

			So(results, ShouldHaveLength, 1)
		})

		Convey("Text relevance orders the results", func() {
			entries := []*Entry{
				workingEntry("1", "completely unrelated topic"),
				workingEntry("2", "the user prefers dark mode"),
			}

			results := retriever.Rerank(entries, "dark mode", NewRecallContext())

			So(results[0].ID, ShouldEqual, "2")
		})

		Convey("Importance breaks content ties", func() {
			entries := []*Entry{
				workingEntry("low", "shared words here").WithImportance(0.1),
				workingEntry("high", "shared words here").WithImportance(0.9),
			}

			results := retriever.Rerank(entries, "shared words", NewRecallContext())

			So(results[0].ID, ShouldEqual, "high")
		})

		Convey("The minimum relevance floor filters", func() {
			entries := []*Entry{workingEntry("1", "nothing in common")}
			ctx := NewRecallContext().WithMinRelevance(0.9)

			So(retriever.Rerank(entries, "zzz qqq", ctx), ShouldBeEmpty)
		})

		Convey("The result cap truncates", func() {
			var entries []*Entry
			for i := 0; i < 20; i++ {
				entries = append(entries, workingEntry(uuidLike(i), "dark mode discussion"))
			}

			results := retriever.Rerank(entries, "dark", NewRecallContext().Limit(5))

			So(results, ShouldHaveLength, 5)
		})
	})
}

func uuidLike(i int) string {
	return string(rune('a'+i%26)) + "-entry"
}

func TestRetrieverConfidence(t *testing.T) {
	Convey("Confidence multiplies the final score", t, func() {
		retriever := NewRetriever(SystemClock()).WithDiversityPenalty(0)

		sure := workingEntry("sure", "dark mode setting").
			WithMetadata(NewMetadata().WithConfidence(1.0))
		unsure := workingEntry("unsure", "dark mode setting").
			WithMetadata(NewMetadata().WithConfidence(0.2))

		results := retriever.Rerank([]*Entry{unsure, sure}, "dark mode", NewRecallContext())

		So(results[0].ID, ShouldEqual, "sure")
	})
}

func TestRetrieverWeightNormalization(t *testing.T) {
	Convey("Unbalanced weights behave like their normalized form", t, func() {
		retriever := NewRetriever(SystemClock()).WithDiversityPenalty(0)

		entries := func() []*Entry {
			return []*Entry{
				workingEntry("relevant", "dark mode preference").WithImportance(0.1),
				workingEntry("important", "unrelated topic entirely").WithImportance(1.0),
			}
		}

		scaled := NewRecallContext()
		scaled.SimilarityWeight = 40
		scaled.RecencyWeight = 30
		scaled.ImportanceWeight = 20
		scaled.AccessWeight = 10

		defaults := retriever.Rerank(entries(), "dark mode", NewRecallContext())
		scaledUp := retriever.Rerank(entries(), "dark mode", scaled)

		So(scaledUp[0].ID, ShouldEqual, defaults[0].ID)

		Convey("All-zero weights fall back to the defaults", func() {
			var zero RecallContext
			zero.MaxResults = 10

			results := retriever.Rerank(entries(), "dark mode", zero)
			So(results[0].ID, ShouldEqual, "relevant")
		})
	})
}

func TestRetrieverRecency(t *testing.T) {
	Convey("Recently accessed entries outrank stale ones", t, func() {
		clock := NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
		retriever := NewRetriever(clock).WithDiversityPenalty(0)

		stale := workingEntry("stale", "dark mode notes")
		stale.AccessedAt = clock.Now().Add(-72 * time.Hour)

		fresh := workingEntry("fresh", "dark mode notes")
		fresh.AccessedAt = clock.Now()

		results := retriever.Rerank([]*Entry{stale, fresh}, "dark mode", NewRecallContext())

		So(results[0].ID, ShouldEqual, "fresh")
	})
}

func TestRetrieverDiversity(t *testing.T) {
	Convey("Near-duplicates are pushed down when diversity is on", t, func() {
		retriever := NewRetriever(SystemClock()).WithDiversityPenalty(0.5)

		entries := []*Entry{
			workingEntry("1", "dark mode is enabled for the user"),
			workingEntry("2", "dark mode is enabled for the user"),
			workingEntry("3", "the user likes dark colors in the editor"),
		}

		results := retriever.Rerank(entries, "dark", NewRecallContext())

		So(results, ShouldHaveLength, 3)
		So(results[0].Content, ShouldNotEqual, results[1].Content)
	})
}

func TestRetrieverTypoTolerance(t *testing.T) {
	Convey("Small typos still match", t, func() {
		sim := retrievalSimilarity("the user prefers dark mode", []string{"darj"})

		So(sim, ShouldBeGreaterThanOrEqualTo, 0.5)
	})

	Convey("Exact and partial matches score higher than typos", t, func() {
		exact := retrievalSimilarity("dark mode", []string{"dark"})
		partial := retrievalSimilarity("darkness falls", []string{"dark"})

		So(exact, ShouldEqual, 1.0)
		So(partial, ShouldEqual, 0.7)
	})
}

func TestLevenshteinDistance(t *testing.T) {
	Convey("Distance matches known cases", t, func() {
		So(levenshteinDistance("", ""), ShouldEqual, 0)
		So(levenshteinDistance("abc", ""), ShouldEqual, 3)
		So(levenshteinDistance("", "abc"), ShouldEqual, 3)
		So(levenshteinDistance("kitten", "sitting"), ShouldEqual, 3)
		So(levenshteinDistance("dark", "darj"), ShouldEqual, 1)
		So(levenshteinDistance("same", "same"), ShouldEqual, 0)
	})
}

func TestRetrieverMerge(t *testing.T) {
	Convey("Merge flattens per-tier lists before reranking", t, func() {
		retriever := NewRetriever(SystemClock())

		sources := [][]*Entry{
			{workingEntry("w1", "dark mode in working memory")},
			{episodicEntry("e1", "dark theme conversation", "session-A")},
			{semanticEntry("s1", "unrelated knowledge")},
		}

		results := retriever.Merge(sources, "dark", NewRecallContext())

		So(len(results), ShouldBeGreaterThanOrEqualTo, 2)

		ids := make([]string, 0, len(results))
		for _, r := range results {
			ids = append(ids, r.ID)
		}
		So(ids, ShouldContain, "w1")
		So(ids, ShouldContain, "e1")
	})
}
