package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewManager(t *testing.T) {
	Convey("Given a valid configuration", t, func() {
		manager, err := NewManager(MinimalConfig())

		So(err, ShouldBeNil)
		So(manager, ShouldNotBeNil)
		So(manager.Config().MaxWorkingMemory, ShouldEqual, 10)
	})

	Convey("Given an invalid configuration", t, func() {
		cfg := MinimalConfig()
		cfg.MaxWorkingMemory = 0

		manager, err := NewManager(cfg)

		So(err, ShouldNotBeNil)
		So(manager, ShouldBeNil)
	})
}

func TestManagerStoreAndGet(t *testing.T) {
	Convey("Given a manager", t, func() {
		ctx := context.Background()
		manager, _ := NewManager(MinimalConfig())

		Convey("Entries route to their tier by type", func() {
			manager.Store(ctx, NewEntry(TypeWorking, "working note").WithID("w"))
			manager.Store(ctx, NewEntry(TypeEpisodic, "episodic event").WithID("e"))
			manager.Store(ctx, NewEntry(TypeSemantic, "semantic fact").WithID("s"))
			manager.Store(ctx, NewEntry(TypeProcedural, "procedural skill").WithID("p"))

			stats := manager.Stats()
			So(stats.WorkingCount, ShouldEqual, 1)
			So(stats.EpisodicCount, ShouldEqual, 1)
			So(stats.SemanticCount, ShouldEqual, 2)
			So(stats.TotalCount(), ShouldEqual, 4)
		})

		Convey("An unknown type is rejected", func() {
			entry := NewEntry(TypeWorking, "bad")
			entry.Type = Type("imaginary")

			_, err := manager.Store(ctx, entry)
			So(err, ShouldNotBeNil)
		})

		Convey("Get probes tiers in order", func() {
			manager.Store(ctx, NewEntry(TypeSemantic, "deep fact").WithID("s"))

			So(manager.Get("s"), ShouldNotBeNil)
			So(manager.Get("ghost"), ShouldBeNil)
		})

		Convey("GetAndTouch rewards the entry", func() {
			manager.Store(ctx, NewEntry(TypeWorking, "touched").WithID("w"))

			touched := manager.GetAndTouch("w")
			So(touched.AccessCount, ShouldEqual, 1)
			So(touched.Importance, ShouldAlmostEqual, 0.6, 0.001)

			So(manager.GetAndTouch("ghost"), ShouldBeNil)
		})

		Convey("Delete finds the owning tier", func() {
			manager.Store(ctx, NewEntry(TypeEpisodic, "to remove").WithID("e"))

			So(manager.Delete("e"), ShouldBeTrue)
			So(manager.Delete("e"), ShouldBeFalse)
			So(manager.Get("e"), ShouldBeNil)
		})
	})
}

func TestManagerRecall(t *testing.T) {
	Convey("Given entries across the tiers", t, func() {
		ctx := context.Background()
		manager, _ := NewManager(MinimalConfig())

		manager.Store(ctx, NewEntry(TypeWorking, "dark mode enabled").WithID("w"))
		manager.Store(ctx, NewEntry(TypeEpisodic, "user asked about dark themes").WithID("e"))
		manager.Store(ctx, NewEntry(TypeSemantic, "the user prefers dark mode").WithID("s"))

		Convey("Recall searches every enabled tier", func() {
			results, err := manager.Recall(ctx, "dark mode", NewRecallContext())

			So(err, ShouldBeNil)
			So(len(results), ShouldBeGreaterThanOrEqualTo, 2)
		})

		Convey("Recall honors tier scoping", func() {
			results, err := manager.Recall(ctx, "dark mode", WorkingOnly())

			So(err, ShouldBeNil)
			for _, entry := range results {
				So(entry.Type, ShouldEqual, TypeWorking)
			}
		})

		Convey("An empty query is rejected", func() {
			_, err := manager.Recall(ctx, "", NewRecallContext())

			So(err, ShouldNotBeNil)
		})

		Convey("Recall truncates to the limit", func() {
			results, err := manager.Recall(ctx, "dark", NewRecallContext().Limit(1))

			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 1)
		})
	})
}

func TestManagerAutoConsolidation(t *testing.T) {
	Convey("Given a manager with a low consolidation threshold", t, func() {
		ctx := context.Background()
		cfg := MinimalConfig() // threshold 5

		manager, _ := NewManager(cfg)

		Convey("Reaching the threshold triggers a pass", func() {
			for i := 0; i < 5; i++ {
				entry := NewEntry(TypeWorking, fmt.Sprintf("note %d", i)).
					WithID(fmt.Sprintf("w%d", i)).
					WithImportance(0.8)
				entry.AccessCount = 5

				_, err := manager.Store(ctx, entry)
				So(err, ShouldBeNil)
			}

			stats := manager.Stats()
			So(stats.WorkingCount, ShouldBeLessThan, 5)
			So(stats.EpisodicCount, ShouldBeGreaterThan, 0)
		})
	})
}

func TestManagerConsolidateAndDecay(t *testing.T) {
	Convey("Given a manager under a fake clock", t, func() {
		ctx := context.Background()
		clock := NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
		manager, _ := NewManager(MinimalConfig(), WithClock(clock))

		Convey("Consolidate promotes hot working entries", func() {
			hot := NewEntry(TypeWorking, "important context").
				WithID("hot").
				WithImportance(0.8)
			hot.AccessCount = 3
			manager.Store(ctx, hot)

			report, err := manager.Consolidate(ctx)

			So(err, ShouldBeNil)
			So(report.WorkingToEpisodic, ShouldEqual, 1)

			promoted := manager.Get("hot")
			So(promoted.Type, ShouldEqual, TypeEpisodic)
		})

		Convey("Decay under the fake clock is deterministic", func() {
			entry := NewEntry(TypeWorking, "fading").
				WithID("f").
				WithImportance(0.5).
				WithDecay(0.7)
			manager.Store(ctx, entry)

			manager.ApplyDecay()

			faded := manager.Get("f")
			So(faded.Importance, ShouldAlmostEqual, 0.35, 0.0001)

			report := manager.ApplyDecay()
			So(report.WorkingRemoved+report.EpisodicRemoved+report.SemanticRemoved, ShouldBeGreaterThanOrEqualTo, 0)
		})

		Convey("Decay removes entries below the retention floor", func() {
			manager.Store(ctx, NewEntry(TypeWorking, "doomed").WithID("d").WithImportance(0.12))

			report := manager.ApplyDecay()

			So(report.WorkingRemoved, ShouldEqual, 1)
			So(manager.Get("d"), ShouldBeNil)
		})
	})
}

func TestManagerSessions(t *testing.T) {
	Convey("Given episodic entries in sessions", t, func() {
		ctx := context.Background()
		manager, _ := NewManager(MinimalConfig())

		manager.Store(ctx, NewEntry(TypeEpisodic, "first").
			WithID("1").WithMetadata(NewMetadata().Session("session-A")))
		manager.Store(ctx, NewEntry(TypeEpisodic, "second").
			WithID("2").WithMetadata(NewMetadata().Session("session-A")))

		Convey("SessionEntries returns the session in order", func() {
			entries := manager.SessionEntries("session-A")

			So(entries, ShouldHaveLength, 2)
			So(entries[0].ID, ShouldEqual, "1")
		})

		Convey("Sessions lists bookkeeping", func() {
			sessions := manager.Sessions()

			So(sessions, ShouldHaveLength, 1)
			So(sessions[0].EntryCount, ShouldEqual, 2)
		})

		Convey("ClearSession removes the entries", func() {
			So(manager.ClearSession("session-A"), ShouldEqual, 2)
			So(manager.Stats().EpisodicCount, ShouldEqual, 0)
		})
	})
}

func TestManagerExportImport(t *testing.T) {
	Convey("Given a populated manager", t, func() {
		ctx := context.Background()
		manager, _ := NewManager(MinimalConfig())

		manager.Store(ctx, NewEntry(TypeWorking, "working note").WithID("w"))
		manager.Store(ctx, NewEntry(TypeEpisodic, "episodic event").WithID("e"))
		manager.Store(ctx, NewEntry(TypeSemantic, "semantic fact").WithID("s"))

		Convey("Export captures every tier", func() {
			exported := manager.Export()

			So(exported, ShouldHaveLength, 3)
		})

		Convey("Import restores into a fresh manager", func() {
			exported := manager.Export()

			restored, _ := NewManager(MinimalConfig())
			count, err := restored.Import(ctx, exported)

			So(err, ShouldBeNil)
			So(count, ShouldEqual, 3)
			So(restored.Stats().TotalCount(), ShouldEqual, 3)
			So(restored.Get("s").Content, ShouldEqual, "semantic fact")
		})
	})
}

func TestManagerConcurrency(t *testing.T) {
	Convey("Concurrent stores and recalls do not race", t, func() {
		ctx := context.Background()
		manager, _ := NewManager(DefaultConfig())

		var wg sync.WaitGroup

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()

				for j := 0; j < 25; j++ {
					entry := NewEntry(TypeWorking, fmt.Sprintf("note %d-%d about topics", n, j))
					manager.Store(ctx, entry)
					manager.Recall(ctx, "topics", NewRecallContext())
					manager.Stats()
				}
			}(i)
		}

		wg.Wait()

		So(manager.Stats().TotalCount(), ShouldBeGreaterThan, 0)
	})
}

type stubEmbedder struct {
	dim   int
	calls int
	fail  bool
}

func (stub *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	stub.calls++

	if stub.fail {
		return nil, fmt.Errorf("provider unreachable")
	}

	embedding := make([]float32, stub.dim)
	for i, b := range []byte(text) {
		embedding[i%stub.dim] += float32(b) / 255.0
	}

	return embedding, nil
}

func TestManagerEmbedder(t *testing.T) {
	Convey("Given a manager with an embedder", t, func() {
		ctx := context.Background()
		cfg := MinimalConfig()
		stub := &stubEmbedder{dim: cfg.EmbeddingDimension}

		manager, _ := NewManager(cfg, WithEmbedder(stub))

		Convey("Semantic entries are embedded before storage", func() {
			_, err := manager.Store(ctx, NewEntry(TypeSemantic, "needs a vector").WithID("s"))

			So(err, ShouldBeNil)
			So(stub.calls, ShouldEqual, 1)
		})

		Convey("Working entries skip the embedder", func() {
			manager.Store(ctx, NewEntry(TypeWorking, "no vector needed"))

			So(stub.calls, ShouldEqual, 0)
		})

		Convey("Embedder failures fail the store", func() {
			stub.fail = true

			_, err := manager.Store(ctx, NewEntry(TypeSemantic, "doomed"))

			So(err, ShouldNotBeNil)
			So(manager.Stats().SemanticCount, ShouldEqual, 0)
		})

		Convey("Embedder failures fail recall rather than degrade it", func() {
			stub.fail = true

			_, err := manager.Recall(ctx, "anything", NewRecallContext())

			So(err, ShouldNotBeNil)
		})
	})
}

func TestManagerConsolidationEmbeds(t *testing.T) {
	Convey("Given a strict manager with an embedder and an aged hot episodic entry", t, func() {
		ctx := context.Background()
		clock := NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))

		cfg := MinimalConfig()
		cfg.RequireEmbeddings = true
		stub := &stubEmbedder{dim: cfg.EmbeddingDimension}

		manager, err := NewManager(cfg, WithClock(clock), WithEmbedder(stub))
		So(err, ShouldBeNil)

		lesson := NewEntry(TypeEpisodic, "hard won lesson").
			WithID("lesson").
			WithImportance(0.9)
		lesson.AccessCount = 6
		lesson.CreatedAt = clock.Now().Add(-48 * time.Hour)

		_, err = manager.Store(ctx, lesson)
		So(err, ShouldBeNil)
		So(stub.calls, ShouldEqual, 0)

		Convey("Promotion to semantic goes through the embedder", func() {
			report, err := manager.Consolidate(ctx)

			So(err, ShouldBeNil)
			So(report.PromotedToSemantic, ShouldEqual, 1)
			So(stub.calls, ShouldEqual, 1)
			So(manager.Get("lesson").Type, ShouldEqual, TypeSemantic)
		})

		Convey("An embedder failure aborts the pass", func() {
			stub.fail = true

			_, err := manager.Consolidate(ctx)

			So(err, ShouldNotBeNil)
			So(manager.Get("lesson").Type, ShouldEqual, TypeEpisodic)
		})
	})
}
