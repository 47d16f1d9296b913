package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

func saveVersion(t *testing.T, s *Server, agentID string, v *domain.Version) string {
	t.Helper()
	if err := s.Stores.Versions.Save(context.Background(), agentID, v); err != nil {
		t.Fatalf("save version: %v", err)
	}
	return v.ID()
}

func TestDeploymentLifecycle(t *testing.T) {
	srv, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})

	v1 := &domain.Version{Model: "stub-model"}
	v1ID := saveVersion(t, srv, "support-bot", v1)

	rec := doJSON(t, h, http.MethodPost, "/v1/deployments", deploymentRequest{
		ID: "prod", AgentID: "support-bot", VersionID: v1ID, CreatedBy: "ops",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d body = %s", rec.Code, rec.Body.String())
	}

	// Re-deploying a compatible version returns a confirmation URL instead of
	// applying the change.
	temp := 0.2
	v2 := &domain.Version{Model: "stub-model", Temperature: &temp}
	v2ID := saveVersion(t, srv, "support-bot", v2)
	rec = doJSON(t, h, http.MethodPost, "/v1/deployments", deploymentRequest{
		ID: "prod", AgentID: "support-bot", VersionID: v2ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("re-upsert = %d body = %s", rec.Code, rec.Body.String())
	}
	var upsert struct {
		ConfirmationURL string `json:"confirmation_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &upsert); err != nil {
		t.Fatal(err)
	}
	if upsert.ConfirmationURL == "" {
		t.Fatal("confirmation url missing")
	}
	// The deployment still serves v1 until confirmed.
	got := decode[domain.Deployment](t, doJSON(t, h, http.MethodGet, "/v1/deployments/prod", nil))
	if got.Version.ID() != v1ID {
		t.Errorf("version = %s, want %s", got.Version.ID(), v1ID)
	}

	rec = doJSON(t, h, http.MethodPatch, "/v1/deployments/prod", deploymentRequest{
		AgentID: "support-bot", VersionID: v2ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm = %d body = %s", rec.Code, rec.Body.String())
	}
	got = decode[domain.Deployment](t, doJSON(t, h, http.MethodGet, "/v1/deployments/prod", nil))
	if got.Version.ID() != v2ID {
		t.Errorf("confirmed version = %s, want %s", got.Version.ID(), v2ID)
	}

	// A version that introduces an output schema breaks the contract.
	v3 := &domain.Version{Model: "stub-model", OutputSchema: map[string]any{
		"type": "object", "properties": map[string]any{"answer": map[string]any{"type": "string"}},
	}}
	v3ID := saveVersion(t, srv, "support-bot", v3)
	rec = doJSON(t, h, http.MethodPost, "/v1/deployments", deploymentRequest{
		ID: "prod", AgentID: "support-bot", VersionID: v3ID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("incompatible upsert = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/deployments/prod/archive", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive = %d", rec.Code)
	}
	archived := decode[domain.Deployment](t, rec)
	if archived.ArchivedAt == nil {
		t.Error("archived_at not set")
	}

	var page struct {
		Items []domain.Deployment `json:"items"`
		Total int                 `json:"total"`
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/deployments?agent_id=support-bot", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Errorf("archived deployment listed: %+v", page)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/deployments?agent_id=support-bot&include_archived=true", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Errorf("include_archived listing: %+v", page)
	}
}

func TestChatAgainstDeployment(t *testing.T) {
	srv, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})

	version := &domain.Version{
		Model:  "stub-model",
		Prompt: []domain.Message{domain.SystemMessage("You help {{name}}.")},
		InputVariablesSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
			"required":   []any{"name"},
		},
	}
	versionID := saveVersion(t, srv, "support-bot", version)
	rec := doJSON(t, h, http.MethodPost, "/v1/deployments", deploymentRequest{
		ID: "chat-prod", AgentID: "support-bot", VersionID: versionID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create deployment = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model": "anotherai/deployment/chat-prod",
		"input": map[string]any{"name": "Ada"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[chatResponse](t, rec)
	if resp.Extra == nil || resp.Extra.AgentID != "support-bot" {
		t.Errorf("agent id = %+v", resp.Extra)
	}

	// Missing required variable fails validation before any upstream call.
	rec = doJSON(t, h, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model": "deployment/chat-prod",
		"input": map[string]any{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestExperimentEndpoints(t *testing.T) {
	_, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})

	rec := doJSON(t, h, http.MethodPost, "/v1/experiments", experimentRequest{
		AgentID: "support-bot",
		Title:   "prompt comparison",
		Versions: []domain.Version{
			{Model: "stub-model", Prompt: []domain.Message{domain.SystemMessage("be terse")}},
			{Model: "stub-model", Prompt: []domain.Message{domain.SystemMessage("be verbose")}},
		},
		Inputs: []domain.AgentInput{
			{Messages: []domain.Message{domain.UserMessage("hi")}},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d body = %s", rec.Code, rec.Body.String())
	}
	exp := decode[domain.Experiment](t, rec)
	if len(exp.Completions) != 2 {
		t.Fatalf("cells = %d, want 2", len(exp.Completions))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = doJSON(t, h, http.MethodGet, "/v1/experiments/"+exp.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get = %d", rec.Code)
		}
		var out struct {
			Experiment  domain.Experiment    `json:"experiment"`
			Completions []*domain.Completion `json:"completions"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatal(err)
		}
		done := true
		for _, cell := range out.Experiment.Completions {
			if !cell.Status.Terminal() {
				done = false
			}
		}
		if done {
			if len(out.Completions) != 2 {
				t.Errorf("completions = %d, want 2", len(out.Completions))
			}
			for _, cell := range out.Experiment.Completions {
				if cell.Status != domain.ExperimentCompleted {
					t.Errorf("cell status = %s", cell.Status)
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("experiment never finished: %+v", out.Experiment.Completions)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExperimentCreateRejectsEmpty(t *testing.T) {
	_, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})
	rec := doJSON(t, h, http.MethodPost, "/v1/experiments", experimentRequest{
		AgentID: "support-bot",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetCompletionNotFound(t *testing.T) {
	_, h := newTestServer(t, &stubAdapter{name: domain.ProviderOpenAI})
	rec := doJSON(t, h, http.MethodGet, "/v1/completions/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}
