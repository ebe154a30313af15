package redisstore

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/testenv"
)

func TestMatches(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := &cognition.WorkingItem{Type: "task", ExpiresAt: now.Add(time.Minute)}
	tests := []struct {
		name string
		f    cognition.WorkingFilter
		want bool
	}{
		{"no filter", cognition.WorkingFilter{}, true},
		{"type mismatch", cognition.WorkingFilter{Type: "alert"}, false},
		{"live", cognition.WorkingFilter{LiveAt: now}, true},
		{"live at expiry", cognition.WorkingFilter{LiveAt: now.Add(time.Minute)}, false},
		{"expired at expiry", cognition.WorkingFilter{ExpiredAt: now.Add(time.Minute)}, true},
		{"not yet expired", cognition.WorkingFilter{ExpiredAt: now}, false},
	}
	for _, tt := range tests {
		if got := matches(w, tt.f); got != tt.want {
			t.Errorf("%s: matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWorkingMemoryOnRedis(t *testing.T) {
	url := testenv.Redis(t)
	logger := zaptest.NewLogger(t)
	s, err := New(url, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	scope := cognition.Scope{TenantID: "t1", AgentID: "a1"}
	wm := cognition.NewWorkingMemory(s, scope, logger, cognition.WithCapacity(2))

	for _, imp := range []float64{0.3, 0.9, 0.6} {
		if _, err := wm.AddItem(ctx, cognition.ItemSpec{Type: "task", Importance: cognition.Float(imp)}); err != nil {
			t.Fatal(err)
		}
	}
	items, err := wm.GetActiveItems(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Importance != 0.9 || items[1].Importance != 0.6 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].AccessCount != 1 {
		t.Errorf("access count = %d", items[0].AccessCount)
	}

	ok, err := wm.RemoveItem(ctx, items[1].ID)
	if err != nil || !ok {
		t.Fatalf("remove = %v, %v", ok, err)
	}
	if got, _ := s.GetWorkingItem(ctx, scope, items[1].ID); got != nil {
		t.Error("removed item still readable")
	}
	other := cognition.Scope{TenantID: "t1", AgentID: "a2"}
	if rows, _ := s.ListWorkingItems(ctx, other, cognition.WorkingFilter{}); len(rows) != 0 {
		t.Errorf("other scope sees %d items", len(rows))
	}
}
