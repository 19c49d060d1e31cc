package memory

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func semanticEntry(id, content string) *Entry {
	return NewEntry(TypeSemantic, content).WithID(id)
}

func TestSemanticStore(t *testing.T) {
	Convey("Given a semantic store", t, func() {
		store := NewSemanticStore(100, 128, SystemClock())

		Convey("It starts empty at the configured dimension", func() {
			So(store.Len(), ShouldEqual, 0)
			So(store.EmbeddingDim(), ShouldEqual, 128)
		})

		Convey("When storing and getting an entry", func() {
			id, err := store.Store(semanticEntry("test-1", "The user prefers dark mode"))

			So(err, ShouldBeNil)
			So(id, ShouldEqual, "test-1")
			So(store.Get("test-1").Content, ShouldEqual, "The user prefers dark mode")
		})

		Convey("A fallback embedding is generated and normalized", func() {
			store.Store(semanticEntry("test-1", "Test content"))

			embedding := store.GetEmbedding("test-1")
			So(embedding, ShouldHaveLength, 128)

			var sum float64
			for _, x := range embedding {
				sum += float64(x) * float64(x)
			}
			So(math.Abs(math.Sqrt(sum)-1.0), ShouldBeLessThan, 0.01)
		})

		Convey("The fallback embedding is deterministic", func() {
			store.Store(semanticEntry("a", "same content"))
			store.Store(semanticEntry("b", "same content"))

			So(store.GetEmbedding("a"), ShouldResemble, store.GetEmbedding("b"))
		})

		Convey("Deleting an entry removes its embedding", func() {
			store.Store(semanticEntry("test-1", "content"))

			So(store.Delete("test-1"), ShouldBeTrue)
			So(store.Get("test-1"), ShouldBeNil)
			So(store.GetEmbedding("test-1"), ShouldBeNil)
		})
	})
}

func TestSemanticStoreEmbeddings(t *testing.T) {
	Convey("Given a store with dimension 4", t, func() {
		store := NewSemanticStore(100, 4, SystemClock())

		Convey("A supplied embedding is kept as given", func() {
			embedding := []float32{1.0, 0.0, 0.0, 0.0}
			store.Store(semanticEntry("test-1", "Test").WithEmbedding(embedding))

			So(store.GetEmbedding("test-1"), ShouldResemble, embedding)
		})

		Convey("A mismatched dimension is rejected", func() {
			_, err := store.Store(semanticEntry("test-1", "Test").WithEmbedding([]float32{1.0, 0.0}))

			So(err, ShouldNotBeNil)
			So(store.Len(), ShouldEqual, 0)
		})

		Convey("A rejected entry keeps its embedding", func() {
			entry := semanticEntry("test-1", "Test").WithEmbedding([]float32{1.0, 0.0})

			_, err := store.Store(entry)

			So(err, ShouldNotBeNil)
			So(entry.Embedding, ShouldResemble, []float32{1.0, 0.0})
		})

		Convey("UpdateEmbedding replaces the vector", func() {
			store.Store(semanticEntry("1", "test"))

			updated, err := store.UpdateEmbedding("1", []float32{0.5, 0.5, 0.5, 0.5})
			So(err, ShouldBeNil)
			So(updated, ShouldBeTrue)
			So(store.GetEmbedding("1"), ShouldResemble, []float32{0.5, 0.5, 0.5, 0.5})
		})

		Convey("UpdateEmbedding validates the dimension", func() {
			store.Store(semanticEntry("1", "test"))

			_, err := store.UpdateEmbedding("1", []float32{1.0})
			So(err, ShouldNotBeNil)
		})

		Convey("UpdateEmbedding reports a missing entry", func() {
			updated, err := store.UpdateEmbedding("ghost", []float32{0, 0, 0, 1})

			So(err, ShouldBeNil)
			So(updated, ShouldBeFalse)
		})
	})

	Convey("Given a store requiring real embeddings", t, func() {
		store := NewSemanticStore(100, 4, SystemClock()).WithRequireEmbeddings(true)

		Convey("Entries without an embedding are rejected", func() {
			_, err := store.Store(semanticEntry("1", "no vector"))

			So(err, ShouldNotBeNil)
			So(store.Len(), ShouldEqual, 0)
		})

		Convey("Entries with an embedding are accepted", func() {
			_, err := store.Store(semanticEntry("1", "has vector").WithEmbedding([]float32{0, 1, 0, 0}))

			So(err, ShouldBeNil)
		})
	})
}

func TestSemanticStoreSearch(t *testing.T) {
	Convey("Given stored knowledge", t, func() {
		store := NewSemanticStore(100, 128, SystemClock())

		store.Store(semanticEntry("1", "The user prefers dark mode"))
		store.Store(semanticEntry("2", "Python is a programming language"))
		store.Store(semanticEntry("3", "Dark theme for editors"))

		Convey("Search finds related entries", func() {
			results := store.Search("dark mode preference", NewRecallContext())

			So(results, ShouldNotBeEmpty)
		})

		Convey("Excluding semantic entries hides them", func() {
			ctx := NewRecallContext()
			ctx.IncludeSemantic = false

			So(store.Search("dark", ctx), ShouldBeEmpty)
		})
	})
}

func TestSemanticStoreKNN(t *testing.T) {
	Convey("Given entries with known embeddings", t, func() {
		store := NewSemanticStore(100, 4, SystemClock())

		store.Store(semanticEntry("1", "Similar A").WithEmbedding([]float32{1.0, 0.0, 0.0, 0.0}))
		store.Store(semanticEntry("2", "Different").WithEmbedding([]float32{0.0, 1.0, 0.0, 0.0}))
		store.Store(semanticEntry("3", "Similar B").WithEmbedding([]float32{0.9, 0.1, 0.0, 0.0}))

		Convey("KNN orders by cosine similarity", func() {
			results := store.KNN([]float32{1.0, 0.0, 0.0, 0.0}, 2)

			So(results, ShouldHaveLength, 2)
			So(results[0].Entry.ID, ShouldEqual, "1")
			So(math.Abs(results[0].Similarity-1.0), ShouldBeLessThan, 0.01)
			So(results[1].Entry.ID, ShouldEqual, "3")
		})
	})
}

func TestSemanticStoreEviction(t *testing.T) {
	Convey("Given a store at capacity 3", t, func() {
		store := NewSemanticStore(3, 64, SystemClock())

		store.Store(semanticEntry("1", "first").WithImportance(0.9))
		store.Store(semanticEntry("2", "second").WithImportance(0.1))
		store.Store(semanticEntry("3", "third").WithImportance(0.9))

		Convey("Overflow evicts the least relevant entry", func() {
			store.Store(semanticEntry("4", "fourth").WithImportance(0.9))

			So(store.Len(), ShouldEqual, 3)
			So(store.Get("2"), ShouldBeNil)
			So(store.Get("4"), ShouldNotBeNil)
		})
	})
}

func TestSemanticStoreByTypeAndTags(t *testing.T) {
	Convey("Given mixed semantic and procedural entries", t, func() {
		store := NewSemanticStore(100, 128, SystemClock())

		store.Store(NewEntry(TypeSemantic, "knowledge").WithID("1"))
		store.Store(NewEntry(TypeProcedural, "skill").WithID("2"))

		Convey("ByType separates the tiers", func() {
			semantic := store.ByType(TypeSemantic)
			So(semantic, ShouldHaveLength, 1)
			So(semantic[0].ID, ShouldEqual, "1")

			procedural := store.ByType(TypeProcedural)
			So(procedural, ShouldHaveLength, 1)
			So(procedural[0].ID, ShouldEqual, "2")
		})

		Convey("Procedural entries keep their type and decay", func() {
			entry := store.Get("2")

			So(entry.Type, ShouldEqual, TypeProcedural)
			So(entry.DecayFactor, ShouldEqual, TypeProcedural.DefaultDecayFactor())
		})
	})

	Convey("Given tagged entries", t, func() {
		store := NewSemanticStore(100, 128, SystemClock())

		store.Store(NewEntry(TypeSemantic, "tagged content").
			WithID("1").
			WithMetadata(NewMetadata().Tag("important").Tag("ai")))
		store.Store(semanticEntry("2", "untagged"))

		Convey("ByTags matches any overlap", func() {
			tagged := store.ByTags([]string{"important"})

			So(tagged, ShouldHaveLength, 1)
			So(tagged[0].ID, ShouldEqual, "1")
		})
	})
}

func TestSemanticStoreDecay(t *testing.T) {
	Convey("Given entries of differing importance", t, func() {
		store := NewSemanticStore(100, 128, SystemClock())

		store.Store(semanticEntry("1", "high importance").WithImportance(0.9))
		store.Store(semanticEntry("2", "low importance").WithImportance(0.05))

		Convey("Decay removes entries below the threshold", func() {
			removed := store.ApplyDecay(24.0, 0.1)

			So(removed, ShouldBeGreaterThanOrEqualTo, 1)
			So(store.Get("1"), ShouldNotBeNil)
		})
	})
}
