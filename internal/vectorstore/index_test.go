package vectorstore

import (
	"context"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap/zaptest"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/testenv"
)

func TestMatchFilter(t *testing.T) {
	if matchFilter(nil) != nil {
		t.Error("empty match should produce no filter")
	}
	f := matchFilter(scopePayload(cognition.Scope{TenantID: "t1", AgentID: "a1"}))
	if len(f.Must) != 2 {
		t.Fatalf("must = %v", f.Must)
	}
	first := f.Must[0].GetField()
	if first.Key != "agent_id" || first.Match.GetKeyword() != "a1" {
		t.Errorf("first condition = %v", first)
	}
	if _, ok := f.Must[1].ConditionOneOf.(*pb.Condition_Field); !ok {
		t.Errorf("second condition = %T", f.Must[1].ConditionOneOf)
	}
}

func TestCollectionNaming(t *testing.T) {
	x := NewIndex(nil, "", zaptest.NewLogger(t))
	if got := x.Collection(cognition.KindEpisode); got != "nuka_episodes" {
		t.Errorf("collection = %q", got)
	}
}

func TestIndexScopesSearch(t *testing.T) {
	host, port := testenv.Qdrant(t)
	client, err := NewClient(QdrantConfig{Host: host, Port: port})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()
	x := NewIndex(client, "test", zaptest.NewLogger(t))
	mine := cognition.Scope{TenantID: "t1", AgentID: "a1"}
	theirs := cognition.Scope{TenantID: "t1", AgentID: "a2"}
	ids := []string{
		"6f1c1a4e-0000-4000-8000-000000000001",
		"6f1c1a4e-0000-4000-8000-000000000002",
		"6f1c1a4e-0000-4000-8000-000000000003",
	}
	if err := x.IndexVector(ctx, cognition.KindFact, mine, ids[0], []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := x.IndexVector(ctx, cognition.KindFact, mine, ids[1], []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := x.IndexVector(ctx, cognition.KindFact, theirs, ids[2], []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}

	hits, err := x.SearchVectors(ctx, cognition.KindFact, mine, []float32{1, 0.1, 0}, 10, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != ids[0] {
		t.Errorf("hits = %v", hits)
	}

	if err := x.RemoveVector(ctx, cognition.KindFact, mine, ids[0]); err != nil {
		t.Fatal(err)
	}
	hits, err = x.SearchVectors(ctx, cognition.KindFact, mine, []float32{1, 0.1, 0}, 10, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("removed point still returned: %v", hits)
	}
}

func TestPayloadValues(t *testing.T) {
	in := map[string]string{"tenant_id": "t1", "agent_id": "a1"}
	values := toValues(in)
	values["weight"] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: 0.5}}
	out := fromValues(values)
	if len(out) != 2 || out["tenant_id"] != "t1" || out["agent_id"] != "a1" {
		t.Errorf("round trip = %v", out)
	}
	if pointID("x").GetUuid() != "x" {
		t.Error("point id lost its uuid")
	}
}
