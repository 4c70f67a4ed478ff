package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/jkoenig/runbox/pkg/api"
)

func TestExecuteRequiresCredentials(t *testing.T) {
	resp := postExecute(t, &api.ExecutionRequest{
		Code:      "1",
		SessionID: "it-noauth",
	}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestExecuteRejectsWrongKey(t *testing.T) {
	resp := postExecute(t, &api.ExecutionRequest{
		Code:      "1",
		SessionID: "it-badkey",
	}, "sk-wrong")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestExecuteRejectsMissingSessionID(t *testing.T) {
	resp := postExecute(t, &api.ExecutionRequest{
		Code: "1",
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Error.Kind != "protocol" {
		t.Errorf("kind = %q, want protocol", body.Error.Kind)
	}
}

func TestExecuteRejectsEmptyCode(t *testing.T) {
	resp := postExecute(t, &api.ExecutionRequest{
		SessionID: "it-empty",
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteRejectsMalformedJSON(t *testing.T) {
	req, err := http.NewRequest("POST", testEnv.Server.URL+"/v1/execute",
		strings.NewReader(`{broken`))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRequestIDEchoedOnResponses(t *testing.T) {
	req, err := http.NewRequest("GET", testEnv.Server.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("X-Request-ID", "it-req-7")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "it-req-7" {
		t.Errorf("X-Request-ID = %q, want it-req-7", got)
	}
}
