package cognition_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

func TestStoreFactUpsert(t *testing.T) {
	f := newFixture(t)
	sm := f.facts(t)
	first, err := sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Acme", Predicate: "ceo", Object: "Jane"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Confidence != cognition.DefaultFactConfidence || first.AccessCount != 0 {
		t.Errorf("new fact = %+v", first)
	}

	second, err := sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Acme", Predicate: "ceo", Object: "John", Confidence: cognition.Float(0.9)})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created a new fact")
	}
	if second.Object != "John" || second.AccessCount != 1 || second.LastAccessedAt == nil {
		t.Errorf("updated fact = %+v", second)
	}
}

func TestQueryFactsTracksAccess(t *testing.T) {
	f := newFixture(t)
	sm := f.facts(t)
	sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Acme", Predicate: "hq", Object: "Berlin"})
	sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Acme", Predicate: "size", Object: "500"})
	sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Globex", Predicate: "hq", Object: "Paris"})

	bySubject, err := sm.QueryFacts(f.ctx, cognition.FactQuery{Subject: "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySubject) != 2 {
		t.Fatalf("got %d Acme facts, want 2", len(bySubject))
	}
	byPredicate, _ := sm.QueryFacts(f.ctx, cognition.FactQuery{Predicate: "hq"})
	if len(byPredicate) != 2 {
		t.Fatalf("got %d hq facts, want 2", len(byPredicate))
	}

	again, _ := sm.QueryFacts(f.ctx, cognition.FactQuery{Subject: "Acme", Predicate: "hq"})
	if len(again) != 1 || again[0].AccessCount != 3 {
		t.Errorf("access count = %v, want 3 after three reads", again)
	}

	text, _ := sm.SearchFactsText(f.ctx, "PARIS", 0)
	if len(text) != 1 || text[0].Subject != "Globex" {
		t.Errorf("text search = %v", text)
	}
}

func TestSearchSimilarFacts(t *testing.T) {
	f := newFixture(t)
	sm := f.facts(t)
	sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Acme", Predicate: "hq", Object: "Berlin", Embedding: []float32{1, 0}})
	sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Acme", Predicate: "size", Object: "500", Embedding: []float32{0.9, 0.1}})
	sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Globex", Predicate: "hq", Object: "Paris", Embedding: []float32{1, 0}})

	hits, err := sm.SearchSimilarFacts(f.ctx, []float32{1, 0}, 0.7, "Acme", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Fact.Predicate != "hq" {
		t.Fatalf("hits = %+v", hits)
	}
	got, _ := sm.QueryFacts(f.ctx, cognition.FactQuery{Subject: "Acme", Predicate: "hq"})
	if got[0].AccessCount != 2 {
		t.Errorf("access count = %d, want 2", got[0].AccessCount)
	}
}

func TestGetRelatedFacts(t *testing.T) {
	f := newFixture(t)
	sm := f.facts(t)
	for _, spec := range []cognition.FactSpec{
		{Subject: "alice", Predicate: "works_at", Object: "Acme"},
		{Subject: "alice", Predicate: "knows", Object: "bob"},
		{Subject: "Acme", Predicate: "located_in", Object: "Berlin"},
		{Subject: "bob", Predicate: "knows", Object: "alice"},
		{Subject: "Berlin", Predicate: "in", Object: "Germany"},
	} {
		if _, err := sm.StoreFact(f.ctx, spec); err != nil {
			t.Fatal(err)
		}
	}

	levels, err := sm.GetRelatedFacts(f.ctx, "alice", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(levels) != 2 {
		t.Fatalf("got %d levels, want 2", len(levels))
	}
	if len(levels[0]) != 2 {
		t.Errorf("level 0 = %d facts, want 2", len(levels[0]))
	}
	// Level 1 covers Acme and bob; bob's edge back to alice is a fact but
	// alice is not revisited.
	if len(levels[1]) != 2 {
		t.Errorf("level 1 = %d facts, want 2", len(levels[1]))
	}

	deep, _ := sm.GetRelatedFacts(f.ctx, "alice", 5, 0)
	if len(deep) != 3 {
		t.Errorf("deep walk = %d levels, want 3 (stops when nothing new)", len(deep))
	}

	none, _ := sm.GetRelatedFacts(f.ctx, "nobody", 2, 0)
	if len(none) != 0 {
		t.Errorf("unknown entity = %v, want no levels", none)
	}
}

func TestFactMaintenancePasses(t *testing.T) {
	f := newFixture(t)
	sm := f.facts(t)
	stale, _ := sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "s", Predicate: "stale", Object: "x", Confidence: cognition.Float(0.3)})
	hot, _ := sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "s", Predicate: "hot", Object: "y", Confidence: cognition.Float(0.95)})
	for i := 0; i < cognition.DefaultMinAccessCount; i++ {
		if _, err := sm.GetFact(f.ctx, hot.ID); err != nil {
			t.Fatal(err)
		}
	}

	n, err := sm.ReinforceFrequentlyAccessed(f.ctx, cognition.DefaultMinAccessCount, cognition.DefaultFactBoost)
	if err != nil || n != 1 {
		t.Fatalf("reinforce = %d, %v", n, err)
	}

	f.clock.Advance(200 * 24 * time.Hour)
	n, err = sm.DecayOldFacts(f.ctx, cognition.DefaultFactDecayDays, cognition.DefaultFactDecay)
	if err != nil || n != 1 {
		t.Fatalf("decay = %d, %v; want only the rarely accessed fact", n, err)
	}

	n, err = sm.ArchiveLowConfidenceFacts(f.ctx, cognition.DefaultArchiveMaxConfidence, cognition.DefaultArchiveFactDays)
	if err != nil || n != 1 {
		t.Fatalf("archive = %d, %v", n, err)
	}
	if got, _ := sm.GetFact(f.ctx, stale.ID); got != nil {
		t.Error("archived fact still visible")
	}
	got, _ := sm.GetFact(f.ctx, hot.ID)
	if got.Confidence != 1 {
		t.Errorf("hot confidence = %v, want 1", got.Confidence)
	}

	updated, _ := sm.UpdateFactConfidence(f.ctx, hot.ID, -2)
	if updated.Confidence != 0 {
		t.Errorf("confidence = %v, want clamped 0", updated.Confidence)
	}
}

func TestEntitySummary(t *testing.T) {
	f := newFixture(t)
	sm := f.facts(t)
	sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Acme", Predicate: "hq", Object: "Berlin"})
	sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "Acme", Predicate: "ceo", Object: "Jane"})
	summary, err := sm.GetEntitySummary(f.ctx, "Acme")
	if err != nil {
		t.Fatal(err)
	}
	if summary["hq"] != "Berlin" || summary["ceo"] != "Jane" || len(summary) != 2 {
		t.Errorf("summary = %v", summary)
	}
}

type recordingGraph struct {
	linked   []string
	unlinked []string
	err      error
}

func (g *recordingGraph) LinkFact(ctx context.Context, scope cognition.Scope, f *cognition.Fact) error {
	g.linked = append(g.linked, f.ID)
	return g.err
}

func (g *recordingGraph) UnlinkFact(ctx context.Context, scope cognition.Scope, f *cognition.Fact) error {
	g.unlinked = append(g.unlinked, f.ID)
	return g.err
}

func TestFactGraphProjection(t *testing.T) {
	f := newFixture(t)
	graph := &recordingGraph{err: errors.New("neo4j down")}
	sm := f.facts(t, cognition.WithFactGraph(graph))

	fact, err := sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "a", Predicate: "p", Object: "b", Confidence: cognition.Float(0.1)})
	if err != nil {
		t.Fatalf("graph failure leaked into StoreFact: %v", err)
	}
	f.clock.Advance(100 * 24 * time.Hour)
	if _, err := sm.ArchiveLowConfidenceFacts(f.ctx, 0.3, 90); err != nil {
		t.Fatal(err)
	}
	if len(graph.linked) != 1 || len(graph.unlinked) != 1 || graph.unlinked[0] != fact.ID {
		t.Errorf("graph calls linked=%v unlinked=%v", graph.linked, graph.unlinked)
	}
}

func TestStoreFactZeroConfidence(t *testing.T) {
	f := newFixture(t)
	sm := f.facts(t)
	fact, err := sm.StoreFact(f.ctx, cognition.FactSpec{Subject: "acme", Predicate: "rumour", Object: "merger", Confidence: cognition.Float(0)})
	if err != nil {
		t.Fatal(err)
	}
	got, err := sm.GetFact(f.ctx, fact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Confidence != 0 {
		t.Errorf("fact = %+v, want confidence 0", got)
	}
}
