package cognition_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

func TestBeliefRevision(t *testing.T) {
	f := newFixture(t)
	bs := f.beliefs(t)

	if _, err := bs.UpdateBelief(f.ctx, cognition.BeliefUpdate{
		Subject: "Acme", Predicate: "deal_stage",
		Object:     cognition.Document{"stage": "negotiation"},
		Confidence: 0.9, Source: cognition.SourceObservation,
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	f.clock.Advance(time.Minute)
	if _, err := bs.UpdateBelief(f.ctx, cognition.BeliefUpdate{
		Subject: "Acme", Predicate: "deal_stage",
		Object:     cognition.Document{"stage": "closed_won"},
		Confidence: 0.95, Source: cognition.SourceObservation,
	}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	b, err := bs.GetBelief(f.ctx, "Acme", "deal_stage")
	if err != nil {
		t.Fatalf("get belief: %v", err)
	}
	if stage, _ := b.Object.String("stage"); stage != "closed_won" {
		t.Errorf("stage = %q, want closed_won", stage)
	}
	if b.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", b.Confidence)
	}

	history, err := bs.GetBeliefHistory(f.ctx, cognition.HistoryFilter{Subject: "Acme", Predicate: "deal_stage"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d history rows, want 2", len(history))
	}
	if history[0].ChangeType != cognition.ChangeUpdated || history[1].ChangeType != cognition.ChangeCreated {
		t.Errorf("history order = %s,%s, want updated,created", history[0].ChangeType, history[1].ChangeType)
	}
	if history[0].OldConfidence == nil || *history[0].OldConfidence != 0.9 {
		t.Errorf("old confidence = %v, want 0.9", history[0].OldConfidence)
	}
	if stage, _ := history[0].OldValue.String("stage"); stage != "negotiation" {
		t.Errorf("old value stage = %q, want negotiation", stage)
	}
}

func TestUpdateBeliefIdempotent(t *testing.T) {
	f := newFixture(t)
	bs := f.beliefs(t)
	u := cognition.BeliefUpdate{
		Subject: "server-1", Predicate: "status",
		Object:     cognition.Document{"up": true},
		Confidence: 0.7, Evidence: []string{"obs-1"},
	}
	first, err := bs.UpdateBelief(f.ctx, u)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := bs.UpdateBelief(f.ctx, u)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("upsert created a second belief: %s vs %s", first.ID, second.ID)
	}
	if len(second.Evidence) != 1 {
		t.Errorf("evidence = %v, want a single entry", second.Evidence)
	}
	all, _ := bs.GetAllBeliefs(f.ctx, 0)
	if len(all) != 1 {
		t.Errorf("got %d live beliefs, want 1", len(all))
	}
}

func TestUpdateBeliefDefaultsAndClamp(t *testing.T) {
	f := newFixture(t)
	b, err := f.beliefs(t).UpdateBelief(f.ctx, cognition.BeliefUpdate{
		Subject: "x", Predicate: "y", Confidence: 1.7,
		Evidence: []string{"a", "b", "a"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if b.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped 1", b.Confidence)
	}
	if b.Type != cognition.BeliefState {
		t.Errorf("type = %q, want state", b.Type)
	}
	if b.DecayRate != cognition.DefaultDecayRate {
		t.Errorf("decay rate = %v, want %v", b.DecayRate, cognition.DefaultDecayRate)
	}
	if strings.Join(b.Evidence, ",") != "a,b" {
		t.Errorf("evidence = %v, want [a b]", b.Evidence)
	}

	custom := cognition.NewBeliefSystem(f.store, testScope, nil, cognition.WithDecayRate(0.02))
	b, err = custom.UpdateBelief(f.ctx, cognition.BeliefUpdate{Subject: "x", Predicate: "z", Confidence: 0.5})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if b.DecayRate != 0.02 {
		t.Errorf("decay rate = %v, want configured 0.02", b.DecayRate)
	}
}

func TestGetBeliefsOrdering(t *testing.T) {
	f := newFixture(t)
	bs := f.beliefs(t)
	for _, u := range []cognition.BeliefUpdate{
		{Subject: "Acme", Predicate: "size", Confidence: 0.4},
		{Subject: "Acme", Predicate: "industry", Confidence: 0.9, Type: cognition.BeliefEvaluative},
		{Subject: "Globex", Predicate: "size", Confidence: 0.6},
	} {
		if _, err := bs.UpdateBelief(f.ctx, u); err != nil {
			t.Fatalf("update %s: %v", u.Predicate, err)
		}
	}

	about, err := bs.GetBeliefsAbout(f.ctx, "Acme", 0.5)
	if err != nil {
		t.Fatalf("about: %v", err)
	}
	if len(about) != 1 || about[0].Predicate != "industry" {
		t.Fatalf("GetBeliefsAbout = %v, want only industry", about)
	}

	all, _ := bs.GetAllBeliefs(f.ctx, 0)
	if len(all) != 3 || all[0].Confidence < all[1].Confidence || all[1].Confidence < all[2].Confidence {
		t.Errorf("GetAllBeliefs not ordered by confidence desc")
	}

	typed, _ := bs.GetBeliefsByType(f.ctx, cognition.BeliefEvaluative, 0)
	if len(typed) != 1 {
		t.Errorf("got %d evaluative beliefs, want 1", len(typed))
	}
}

func TestDecayBeliefs(t *testing.T) {
	f := newFixture(t)
	bs := f.beliefs(t)
	if _, err := bs.UpdateBelief(f.ctx, cognition.BeliefUpdate{Subject: "a", Predicate: "p", Confidence: 0.9}); err != nil {
		t.Fatal(err)
	}
	if _, err := bs.UpdateBelief(f.ctx, cognition.BeliefUpdate{Subject: "b", Predicate: "p", Confidence: 0.25}); err != nil {
		t.Fatal(err)
	}

	// Less than a day: nothing changes.
	f.clock.Advance(12 * time.Hour)
	report, err := bs.DecayBeliefs(f.ctx)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if report.Decayed != 0 || report.Removed != 0 {
		t.Fatalf("decay under a day = %+v, want no changes", report)
	}

	f.clock.Advance(36 * time.Hour) // two days since update
	report, err = bs.DecayBeliefs(f.ctx)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if report.Decayed != 1 || report.Removed != 1 {
		t.Fatalf("report = %+v, want 1 decayed and 1 removed", report)
	}

	a, _ := bs.GetBelief(f.ctx, "a", "p")
	if a == nil || !approx(a.Confidence, 0.7) {
		t.Fatalf("decayed belief = %+v, want confidence 0.7", a)
	}
	if b, _ := bs.GetBelief(f.ctx, "b", "p"); b != nil {
		t.Errorf("belief below threshold still live: %+v", b)
	}

	history, _ := bs.GetBeliefHistory(f.ctx, cognition.HistoryFilter{Subject: "b"})
	if len(history) == 0 || history[0].ChangeType != cognition.ChangeDeleted {
		t.Fatalf("missing deleted history row for b")
	}
	if history[0].Reason != "confidence decayed below threshold" {
		t.Errorf("reason = %q", history[0].Reason)
	}

	// Re-running on the same instant is a no-op.
	report, _ = bs.DecayBeliefs(f.ctx)
	if report.Decayed != 0 || report.Removed != 0 {
		t.Errorf("second pass = %+v, want no changes", report)
	}
}

func TestDecayNeverIncreasesConfidence(t *testing.T) {
	f := newFixture(t)
	bs := f.beliefs(t)
	for i, c := range []float64{0.15, 0.5, 1} {
		if _, err := bs.UpdateBelief(f.ctx, cognition.BeliefUpdate{
			Subject: "s", Predicate: string(rune('a' + i)), Confidence: c, DecayRate: cognition.Float(0.05),
		}); err != nil {
			t.Fatal(err)
		}
	}
	before := map[string]float64{}
	all, _ := bs.GetAllBeliefs(f.ctx, 0)
	for _, b := range all {
		before[b.Predicate] = b.Confidence
	}
	for day := 0; day < 5; day++ {
		f.clock.Advance(30 * time.Hour)
		if _, err := bs.DecayBeliefs(f.ctx); err != nil {
			t.Fatal(err)
		}
		all, _ := bs.GetAllBeliefs(f.ctx, 0)
		for _, b := range all {
			if b.Confidence > before[b.Predicate] {
				t.Fatalf("confidence of %s rose from %v to %v", b.Predicate, before[b.Predicate], b.Confidence)
			}
			if b.Confidence < cognition.MinBeliefConfidence {
				t.Fatalf("live belief %s below floor: %v", b.Predicate, b.Confidence)
			}
			before[b.Predicate] = b.Confidence
		}
	}
}

func TestRemoveBelief(t *testing.T) {
	f := newFixture(t)
	bs := f.beliefs(t)
	if _, err := bs.UpdateBelief(f.ctx, cognition.BeliefUpdate{Subject: "a", Predicate: "p", Confidence: 0.5}); err != nil {
		t.Fatal(err)
	}
	ok, err := bs.RemoveBelief(f.ctx, "a", "p", "contradicted")
	if err != nil || !ok {
		t.Fatalf("remove = %v, %v; want true, nil", ok, err)
	}
	ok, err = bs.RemoveBelief(f.ctx, "a", "p", "again")
	if err != nil || ok {
		t.Fatalf("second remove = %v, %v; want false, nil", ok, err)
	}
	// The subject/predicate slot is free again.
	if _, err := bs.UpdateBelief(f.ctx, cognition.BeliefUpdate{Subject: "a", Predicate: "p", Confidence: 0.6}); err != nil {
		t.Fatalf("recreate after remove: %v", err)
	}
}

type stubExtractor struct {
	result *cognition.BeliefExtraction
	err    error
	text   string
}

func (s *stubExtractor) ExtractBeliefs(ctx context.Context, obs *cognition.Observation, text string) (*cognition.BeliefExtraction, error) {
	s.text = text
	return s.result, s.err
}

func TestExtractBeliefsFromObservation(t *testing.T) {
	f := newFixture(t)
	bs := f.beliefs(t)
	obs := &cognition.Observation{
		ID: "obs-42", Type: "email", Source: "gmail", Priority: 3,
		Content: cognition.Document{"from": "ceo@acme.com", "subject": "Renewal"},
	}
	ext := &stubExtractor{result: &cognition.BeliefExtraction{
		Summary: "renewal email",
		Beliefs: []cognition.ExtractedBelief{
			{Subject: "Acme", Predicate: "renewal", Object: cognition.Document{"likely": true}, Confidence: 0.8, Type: "event"},
			{Subject: "", Predicate: "ignored"},
		},
	}}

	got, err := bs.ExtractBeliefsFromObservation(f.ctx, obs, ext)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d beliefs, want 1", len(got))
	}
	if got[0].Source != cognition.SourceObservation || got[0].Type != cognition.BeliefEvent {
		t.Errorf("belief = %+v, want observation/event", got[0])
	}
	if len(got[0].Evidence) != 1 || got[0].Evidence[0] != "obs-42" {
		t.Errorf("evidence = %v, want [obs-42]", got[0].Evidence)
	}
	if !strings.Contains(ext.text, "from: ceo@acme.com") {
		t.Errorf("formatted observation missing content:\n%s", ext.text)
	}
}

func TestExtractBeliefsFailureYieldsNothing(t *testing.T) {
	f := newFixture(t)
	ext := &stubExtractor{err: errors.New("llm unavailable")}
	got, err := f.beliefs(t).ExtractBeliefsFromObservation(f.ctx, &cognition.Observation{ID: "o"}, ext)
	if err != nil {
		t.Fatalf("extraction failure leaked: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d beliefs, want 0", len(got))
	}
}

func TestFormatBeliefs(t *testing.T) {
	out := cognition.FormatBeliefs([]*cognition.Belief{
		{Subject: "Acme", Predicate: "stage", Object: cognition.Document{"v": 1}, Confidence: 0.5},
	})
	if !strings.Contains(out, "Acme stage") || !strings.Contains(out, "0.50") {
		t.Errorf("unexpected format: %q", out)
	}
	if cognition.FormatBeliefs(nil) != "" {
		t.Error("expected empty output for no beliefs")
	}
}

func TestZeroDecayRateNeverDecays(t *testing.T) {
	f := newFixture(t)
	bs := f.beliefs(t)
	b, err := bs.UpdateBelief(f.ctx, cognition.BeliefUpdate{
		Subject: "earth", Predicate: "shape", Object: cognition.Document{"value": "round"},
		Confidence: 0.9, Source: cognition.SourcePrior, DecayRate: cognition.Float(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.DecayRate != 0 {
		t.Fatalf("stored decay rate = %v, want 0", b.DecayRate)
	}

	f.clock.Advance(30 * 24 * time.Hour)
	if _, err := bs.DecayBeliefs(f.ctx); err != nil {
		t.Fatal(err)
	}
	got, err := bs.GetBelief(f.ctx, "earth", "shape")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("non-decaying belief was removed")
	}
	if got.Confidence != 0.9 || got.DecayRate != 0 {
		t.Errorf("after 30 days: confidence %v, decay rate %v", got.Confidence, got.DecayRate)
	}

	// A manager configured with a zero rate applies it to unspecified updates.
	static := cognition.NewBeliefSystem(f.store, testScope, nil, append(f.opts, cognition.WithDecayRate(0))...)
	b, err = static.UpdateBelief(f.ctx, cognition.BeliefUpdate{Subject: "earth", Predicate: "moons", Confidence: 0.8})
	if err != nil {
		t.Fatal(err)
	}
	if b.DecayRate != 0 {
		t.Errorf("decay rate = %v, want configured 0", b.DecayRate)
	}
}
