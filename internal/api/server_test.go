package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"transcode-fleet/internal/models"
	"transcode-fleet/internal/state"
)

type staticStatus models.WorkerStatus

func (s staticStatus) Status() models.WorkerStatus { return models.WorkerStatus(s) }

type staticState struct {
	snap state.Snapshot
	err  error
}

func (s staticState) Snapshot([]string) (state.Snapshot, error) { return s.snap, s.err }

func newTestServer(st staticState) *httptest.Server {
	status := staticStatus{WorkerID: "w1", State: "processing", Job: "a.mp4", UpdatedAt: time.Now()}
	return httptest.NewServer(New(status, st).Router())
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(staticState{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	srv := newTestServer(staticState{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var got models.WorkerStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.WorkerID != "w1" || got.Job != "a.mp4" || got.State != "processing" {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestState(t *testing.T) {
	srv := newTestServer(staticState{snap: state.Snapshot{
		Processed:  []string{"a.mp4", "b.mp4"},
		InProgress: []string{"c.mp4"},
	}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var got struct {
		Processed       []string `json:"processed"`
		InProgress      []string `json:"in_progress"`
		ProcessedCount  int      `json:"processed_count"`
		InProgressCount int      `json:"in_progress_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ProcessedCount != 2 || got.InProgressCount != 1 || got.InProgress[0] != "c.mp4" {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestStateError(t *testing.T) {
	srv := newTestServer(staticState{err: errors.New("locked out")})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
