package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"appforge/internal/config"
	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
	"appforge/internal/infra/progress"
)

type stubProjects struct {
	projects map[string]*model.Project
}

func (s *stubProjects) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubProjects) Save(ctx context.Context, _ repository.Tx, p *model.Project) error { return nil }
func (s *stubProjects) UpdateStatus(ctx context.Context, _ repository.Tx, id string, st model.ProjectStatus, pr int, stage string) error {
	return nil
}
func (s *stubProjects) SetError(ctx context.Context, _ repository.Tx, id, m string) error { return nil }
func (s *stubProjects) ClearError(ctx context.Context, _ repository.Tx, id string) error  { return nil }
func (s *stubProjects) SetComputeIDs(ctx context.Context, _ repository.Tx, id, a, b string) error {
	return nil
}
func (s *stubProjects) SetDeploymentURL(ctx context.Context, _ repository.Tx, id, u string) error {
	return nil
}
func (s *stubProjects) SaveSettings(ctx context.Context, _ repository.Tx, id string, st model.ProjectSettings) error {
	return nil
}

func newTestServer(projects *stubProjects) (*Server, *progress.Broadcaster) {
	l := zerolog.Nop()
	bus := progress.NewBroadcaster(&l)
	return NewServer(config.HTTPConfig{Port: 0}, bus, projects, &l), bus
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(&stubProjects{projects: map[string]*model.Project{}})
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestProjectStatus(t *testing.T) {
	s, _ := newTestServer(&stubProjects{projects: map[string]*model.Project{
		"p1": {ID: "p1", Status: model.ProjectStatusDeployed, BuildProgress: 100, DeploymentURL: "https://demo.appforge.app"},
	}})

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "deployed" || body["url"] != "https://demo.appforge.app" {
		t.Errorf("body = %v", body)
	}

	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/nope/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProjectEventsStreamsSSE(t *testing.T) {
	s, bus := newTestServer(&stubProjects{projects: map[string]*model.Project{}})
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/projects/p1/events")
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Subscription is registered before the handler writes headers, but give
	// the event loop a beat anyway.
	time.Sleep(50 * time.Millisecond)
	bus.Emit("p1", 42, "core", "Writing src/App.jsx")

	lineCh := make(chan string, 1)
	go func() {
		r := bufio.NewReader(resp.Body)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				lineCh <- strings.TrimSpace(strings.TrimPrefix(line, "data: "))
				return
			}
		}
	}()

	select {
	case raw := <-lineCh:
		var ev model.ProgressEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			t.Fatalf("decoding event %q: %v", raw, err)
		}
		if ev.ProjectID != "p1" || ev.Progress != 42 || ev.Stage != "core" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no SSE event received")
	}
}
