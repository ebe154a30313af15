//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("NUKA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

var client = &http.Client{Timeout: 90 * time.Second}

// call sends a JSON request and decodes the response into out when it is non-nil.
func call(t *testing.T, method, path string, in, out any) int {
	t.Helper()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
		}
	}
	return resp.StatusCode
}

// agentPath is unique per run so repeated smoke runs do not see each other's memory.
func agentPath() (tenant, agent, prefix string) {
	tenant = fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	agent = "smokebot"
	return tenant, agent, "/api/agents/" + tenant + "/" + agent
}

func TestHealth(t *testing.T) {
	var body map[string]any
	if code := call(t, http.MethodGet, "/api/health", nil, &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestObservationReachesMemory(t *testing.T) {
	tenant, agent, prefix := agentPath()

	obs := map[string]any{
		"tenant_id":        tenant,
		"employee_id":      agent,
		"observation_type": "email",
		"source":           "alice@acme.test",
		"content":          map[string]any{"subject": "renewal", "body": "Acme wants to renew in March"},
		"priority":         7,
	}
	code := call(t, http.MethodPost, "/api/observations", obs, nil)
	if code != http.StatusCreated && code != http.StatusAccepted {
		t.Fatalf("POST /api/observations status %d", code)
	}

	// Queued observations land asynchronously.
	deadline := time.Now().Add(30 * time.Second)
	for {
		var episodes []map[string]any
		if code := call(t, http.MethodGet, prefix+"/episodes", nil, &episodes); code != http.StatusOK {
			t.Fatalf("GET episodes status %d", code)
		}
		if len(episodes) > 0 {
			t.Logf("episode: %v", episodes[0]["description"])
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("observation never recorded as an episode")
		}
		time.Sleep(500 * time.Millisecond)
	}

	var working map[string]any
	if code := call(t, http.MethodGet, prefix+"/working", nil, &working); code != http.StatusOK {
		t.Fatalf("GET working status %d", code)
	}
}

func TestSweepScope(t *testing.T) {
	_, _, prefix := agentPath()

	var report map[string]any
	if code := call(t, http.MethodPost, prefix+"/maintenance/sweep", nil, &report); code != http.StatusOK {
		t.Fatalf("sweep status %d", code)
	}
	if _, ok := report["duration"]; !ok {
		t.Errorf("report = %v", report)
	}
}

func TestNextIntentionEmpty(t *testing.T) {
	_, _, prefix := agentPath()

	if code := call(t, http.MethodGet, prefix+"/intentions/next", nil, nil); code != http.StatusNoContent {
		t.Errorf("status %d, want 204 for a fresh agent", code)
	}
}
