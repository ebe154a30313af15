package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/cognition/memstore"
)

func TestAPIProviderEmbed(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// Reply out of order; the provider must restore input order.
		resp := apiResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, apiEmbeddingData{Index: i, Embedding: []float32{float32(len(req.Input[i])), 0.2, 0.3}})
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-model", APIKey: "secret", BatchSize: 2})

	vectors, err := p.Embed(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 3 || calls != 2 {
		t.Fatalf("got %d vectors in %d calls, want 3 in 2", len(vectors), calls)
	}
	for i, v := range vectors {
		if v[0] != float32(i+1) {
			t.Errorf("vector %d = %v, out of order", i, v)
		}
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIProviderEmbed_Empty(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Model: "test-model", Dimension: 128})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestAPIProviderDimension_Fallback(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Model: "test-model", Dimension: 256})
	if d := p.Dimension(); d != 256 {
		t.Errorf("got dimension %d, want configured default 256", d)
	}
}

func TestAPIProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewAPIProvider(Config{Endpoint: srv.URL}).Embed(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestLocalProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req localRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := localResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 2})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "nomic-embed-text"})
	vec, err := EmbedOne(context.Background(), p, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || p.Dimension() != 2 {
		t.Errorf("vec = %v, dimension = %d", vec, p.Dimension())
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("empty provider err = %v", err)
	}
	if _, err := New(Config{Provider: "bogus"}); err == nil {
		t.Error("unknown provider accepted")
	}
	if p, err := New(Config{Provider: "ollama"}); err != nil || p == nil {
		t.Errorf("ollama = %v, %v", p, err)
	}
}

type lengthProvider struct{ calls int }

func (p *lengthProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls++
	out := make([][]float32, len(texts))
	for i, s := range texts {
		out[i] = []float32{float32(len(s)), 1}
	}
	return out, nil
}

func (p *lengthProvider) Dimension() int { return 2 }

func TestBackfiller(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := memstore.New()
	scope := cognition.Scope{TenantID: "t1", AgentID: "a1"}

	em := cognition.NewEpisodicMemory(store, scope, logger)
	sm := cognition.NewSemanticMemory(store, scope, logger)
	if _, err := em.RecordEpisode(ctx, cognition.EpisodeSpec{Description: "call with acme"}); err != nil {
		t.Fatal(err)
	}
	if _, err := em.RecordEpisode(ctx, cognition.EpisodeSpec{Description: "has vector", Embedding: []float32{0, 1}}); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.StoreFact(ctx, cognition.FactSpec{Subject: "acme", Predicate: "industry", Object: "retail"}); err != nil {
		t.Fatal(err)
	}

	p := &lengthProvider{}
	b := NewBackfiller(store, p, 0, logger)
	rep, err := b.Run(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Episodes != 1 || rep.Facts != 1 || p.calls != 1 {
		t.Errorf("report = %+v after %d calls", rep, p.calls)
	}
	if missing, _ := em.EpisodesMissingEmbedding(ctx, 10); len(missing) != 0 {
		t.Errorf("%d episodes still missing embeddings", len(missing))
	}

	rep, err = b.Run(ctx, scope)
	if err != nil || rep != (BackfillReport{}) || p.calls != 1 {
		t.Errorf("second pass = %+v, %v after %d calls", rep, err, p.calls)
	}
}

func TestTexts(t *testing.T) {
	e := &cognition.Episode{Type: cognition.EpisodeInteraction, Description: "renewal call",
		Participants: []string{"alice", "bob"}, Content: cognition.Document{"outcome": "signed"}}
	want := "interaction: renewal call\nParticipants: alice, bob\noutcome: signed"
	if got := EpisodeText(e); got != want {
		t.Errorf("EpisodeText = %q", got)
	}
	if got := FactText(&cognition.Fact{Subject: "acme", Predicate: "located_in", Object: "berlin"}); got != "acme located in berlin" {
		t.Errorf("FactText = %q", got)
	}
}

func TestCachedEmbedsOnlyMisses(t *testing.T) {
	inner := &lengthProvider{}
	c, err := NewCached(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	if _, err := c.Embed(ctx, []string{"a", "bb"}); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	vecs, err := c.Embed(ctx, []string{"bb", "ccc", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
	for i, want := range []float32{2, 3, 1} {
		if vecs[i][0] != want {
			t.Errorf("vector %d = %v, want length %v", i, vecs[i], want)
		}
	}
	c.Wait()

	if _, err := c.Embed(ctx, []string{"ccc", "a"}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("fully cached call reached provider: %d calls", inner.calls)
	}
	if c.Dimension() != 2 {
		t.Errorf("dimension = %d", c.Dimension())
	}
}

func TestBackfillerWithoutLogger(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	scope := cognition.Scope{TenantID: "t1", AgentID: "a1"}
	if _, err := cognition.NewEpisodicMemory(store, scope, nil).RecordEpisode(ctx, cognition.EpisodeSpec{Description: "call"}); err != nil {
		t.Fatal(err)
	}
	rep, err := NewBackfiller(store, &lengthProvider{}, 0, nil).Run(ctx, scope)
	if err != nil || rep.Episodes != 1 {
		t.Errorf("report = %+v, %v", rep, err)
	}
}
