package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jkoenig/runbox/pkg/api"
)

func TestHealthzWithoutCredentials(t *testing.T) {
	resp, err := http.Get(testEnv.Server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (healthz bypasses auth)", resp.StatusCode)
	}

	var body struct {
		Status  string         `json:"status"`
		Workers map[string]int `json:"workers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}

	total := 0
	for _, n := range body.Workers {
		total += n
	}
	if total != 2 {
		t.Errorf("worker count = %d, want 2", total)
	}
}

func TestReadyzReportsReady(t *testing.T) {
	resp, err := http.Get(testEnv.Server.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsExposition(t *testing.T) {
	// Dispatch once so the counter has been observed at least once.
	execute(t, &api.ExecutionRequest{Code: "0", SessionID: "it-metrics"})

	resp, err := http.Get(testEnv.Server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (metrics bypasses auth)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	if !strings.Contains(string(body), "runbox_dispatches_total") {
		t.Error("expected runbox_dispatches_total in metrics exposition")
	}
}
