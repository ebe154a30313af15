package cognition_test

import (
	"testing"
	"time"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

func TestRecordAndGetEpisode(t *testing.T) {
	f := newFixture(t)
	em := f.episodes(t)
	e, err := em.RecordEpisode(f.ctx, cognition.EpisodeSpec{
		Type:         cognition.EpisodeInteraction,
		Description:  "call with Acme",
		Content:      cognition.Document{"duration": 30},
		Participants: []string{"alice", "bob"},
		Location:     "zoom",
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.Importance != cognition.DefaultEpisodeImportance {
		t.Errorf("importance = %v, want default", e.Importance)
	}

	got, err := em.GetEpisode(f.ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != e.Description || got.Location != "zoom" || len(got.Participants) != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Content.Contains(e.Content) {
		t.Errorf("content = %v, want %v", got.Content, e.Content)
	}
	if got.RecallCount != 0 {
		t.Errorf("GetEpisode counted as recall")
	}
}

func TestRecallSimilar(t *testing.T) {
	f := newFixture(t)
	em := f.episodes(t)
	near, _ := em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "near", Embedding: []float32{1, 0, 0}})
	mid, _ := em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "mid", Embedding: []float32{1, 1, 0}})
	em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "far", Embedding: []float32{0, 0, 1}})
	em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "unembedded"})

	hits, err := em.RecallSimilar(f.ctx, []float32{1, 0.1, 0}, 10, cognition.DefaultSimilarityThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Episode.ID != near.ID || hits[1].Episode.ID != mid.ID {
		t.Fatalf("hits = %+v, want [near mid]", hits)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("hits not ordered by similarity")
	}

	got, _ := em.GetEpisode(f.ctx, near.ID)
	if got.RecallCount != 1 || got.LastRecalledAt == nil {
		t.Errorf("recall not tracked: count=%d at=%v", got.RecallCount, got.LastRecalledAt)
	}
}

func TestRecallRecentAndFilters(t *testing.T) {
	f := newFixture(t)
	em := f.episodes(t)
	old := f.clock.Now().Add(-10 * 24 * time.Hour)
	em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "old", OccurredAt: old, Participants: []string{"carol"}})
	em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "yesterday", OccurredAt: f.clock.Now().Add(-24 * time.Hour), Type: cognition.EpisodeFeedback})
	em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "now", Participants: []string{"carol"}})

	recent, err := em.RecallRecent(f.ctx, 0, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Description != "now" || recent[1].Description != "yesterday" {
		t.Fatalf("recent = %v, want [now yesterday]", recent)
	}

	feedback, _ := em.RecallRecent(f.ctx, 7, 10, cognition.EpisodeFeedback)
	if len(feedback) != 1 {
		t.Errorf("got %d feedback episodes, want 1", len(feedback))
	}

	withCarol, _ := em.RecallWithParticipant(f.ctx, "carol", 0)
	if len(withCarol) != 2 || withCarol[0].Description != "now" {
		t.Errorf("with carol = %v", withCarol)
	}

	events, _ := em.RecallByType(f.ctx, cognition.EpisodeEvent, 1)
	if len(events) != 1 {
		t.Errorf("limit not applied: %d", len(events))
	}
}

func TestEpisodeMaintenancePasses(t *testing.T) {
	f := newFixture(t)
	em := f.episodes(t)
	popular, _ := em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "popular", Importance: cognition.Float(0.95), Embedding: []float32{1, 0}})
	forgotten, _ := em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "forgotten", Importance: cognition.Float(0.5)})
	trivial, _ := em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "trivial", Importance: cognition.Float(0.1)})

	for i := 0; i < cognition.DefaultMinRecallCount; i++ {
		if _, err := em.RecallSimilar(f.ctx, []float32{1, 0}, 1, 0.9); err != nil {
			t.Fatal(err)
		}
	}
	n, err := em.ReinforceFrequentlyRecalled(f.ctx, cognition.DefaultMinRecallCount, cognition.DefaultReinforceBoost)
	if err != nil || n != 1 {
		t.Fatalf("reinforce = %d, %v; want 1", n, err)
	}
	if got, _ := em.GetEpisode(f.ctx, popular.ID); got.Importance != 1 {
		t.Errorf("reinforced importance = %v, want capped 1", got.Importance)
	}

	f.clock.Advance(400 * 24 * time.Hour)
	n, err = em.DecayRarelyRecalled(f.ctx, cognition.DefaultRareRecallDays, cognition.DefaultImportanceDecay)
	if err != nil || n != 2 {
		t.Fatalf("decay = %d, %v; want 2", n, err)
	}
	if got, _ := em.GetEpisode(f.ctx, forgotten.ID); !approx(got.Importance, 0.45) {
		t.Errorf("decayed importance = %v, want 0.45", got.Importance)
	}

	n, err = em.ArchiveLowImportance(f.ctx, cognition.DefaultArchiveEpisodeDays, cognition.DefaultArchiveMaxImportance)
	if err != nil || n != 1 {
		t.Fatalf("archive = %d, %v; want 1", n, err)
	}
	if got, _ := em.GetEpisode(f.ctx, trivial.ID); got != nil {
		t.Error("archived episode still visible")
	}
}

func TestEpisodeEmbeddingBackfill(t *testing.T) {
	f := newFixture(t)
	em := f.episodes(t)
	e, _ := em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "pending"})
	missing, err := em.EpisodesMissingEmbedding(f.ctx, 0)
	if err != nil || len(missing) != 1 {
		t.Fatalf("missing = %v, %v", missing, err)
	}
	if _, err := em.SetEmbedding(f.ctx, e.ID, []float32{0.2, 0.4}); err != nil {
		t.Fatal(err)
	}
	missing, _ = em.EpisodesMissingEmbedding(f.ctx, 0)
	if len(missing) != 0 {
		t.Errorf("still missing after SetEmbedding: %v", missing)
	}
}

func TestConsolidateMemoriesIsNoop(t *testing.T) {
	f := newFixture(t)
	em := f.episodes(t)
	em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Embedding: []float32{1, 0}})
	em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Embedding: []float32{1, 0}})
	n, err := em.ConsolidateMemories(f.ctx, cognition.ConsolidationOptions{})
	if err != nil || n != 0 {
		t.Errorf("consolidate = %d, %v; want 0, nil", n, err)
	}
	recent, _ := em.RecallRecent(f.ctx, 1, 0, "")
	if len(recent) != 2 {
		t.Errorf("consolidation removed episodes: %d left", len(recent))
	}
}

func TestRecordEpisodeZeroImportance(t *testing.T) {
	f := newFixture(t)
	em := f.episodes(t)
	e, err := em.RecordEpisode(f.ctx, cognition.EpisodeSpec{Description: "heartbeat", Importance: cognition.Float(0)})
	if err != nil {
		t.Fatal(err)
	}
	got, err := em.GetEpisode(f.ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Importance != 0 {
		t.Errorf("importance = %v, want explicit 0", got.Importance)
	}
}
