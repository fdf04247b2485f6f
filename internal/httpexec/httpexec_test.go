package httpexec

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldops/fieldsync/internal/outbox"
	"github.com/fieldops/fieldsync/internal/outbox/drain"
)

type recordedRequest struct {
	method string
	path   string
	body   map[string]any
}

// newTestExecutor spins up a backend that records requests and replies with
// the given status and body.
func newTestExecutor(t *testing.T, status int, respBody string) (*Executor, *recordedRequest) {
	t.Helper()

	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)

	return New(Config{
		BaseURL: srv.URL,
		Logger:  log.New(io.Discard, "", 0),
	}), rec
}

func noteItem(op outbox.Op, id int64, clientID string) outbox.Item {
	return outbox.Item{
		UID:    "test-uid",
		Status: outbox.StatusInProgress,
		Payload: outbox.Payload{
			Entity:   outbox.EntityNote,
			Op:       op,
			JobID:    42,
			ID:       id,
			ClientID: clientID,
			Body:     &outbox.NoteBody{Title: outbox.String("hello")},
		},
	}
}

func TestCreatePostsUnderJob(t *testing.T) {
	exec, rec := newTestExecutor(t, http.StatusCreated, `{"id": 901}`)

	res, err := exec.Execute(context.Background(), noteItem(outbox.OpCreate, 0, "c-1"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.ServerID != 901 {
		t.Errorf("ServerID = %d, want 901", res.ServerID)
	}
	if rec.method != http.MethodPost {
		t.Errorf("method = %s, want POST", rec.method)
	}
	if rec.path != "/jobs/42/notes" {
		t.Errorf("path = %s, want /jobs/42/notes", rec.path)
	}
	if rec.body["clientId"] != "c-1" {
		t.Errorf("request body clientId = %v, want c-1", rec.body["clientId"])
	}
}

func TestUpdatePutsByServerID(t *testing.T) {
	exec, rec := newTestExecutor(t, http.StatusOK, `{}`)

	if _, err := exec.Execute(context.Background(), noteItem(outbox.OpUpdate, 33, "")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.method != http.MethodPut || rec.path != "/notes/33" {
		t.Errorf("request = %s %s, want PUT /notes/33", rec.method, rec.path)
	}
}

func TestDeleteByServerID(t *testing.T) {
	exec, rec := newTestExecutor(t, http.StatusNoContent, "")

	if _, err := exec.Execute(context.Background(), noteItem(outbox.OpDelete, 33, "")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.method != http.MethodDelete || rec.path != "/notes/33" {
		t.Errorf("request = %s %s, want DELETE /notes/33", rec.method, rec.path)
	}
}

func TestUpdateWithoutServerIDIsRetryable(t *testing.T) {
	exec, _ := newTestExecutor(t, http.StatusOK, `{}`)

	_, err := exec.Execute(context.Background(), noteItem(outbox.OpUpdate, 0, "c-1"))
	if err == nil {
		t.Fatal("expected error for update addressed only by clientId")
	}
	if drain.IsTerminal(err) {
		t.Error("missing server id classified terminal, want retryable")
	}
}

func TestMaterialListPutsBatchUnderJob(t *testing.T) {
	exec, rec := newTestExecutor(t, http.StatusOK, `{}`)

	item := outbox.Item{
		UID:    "batch-uid",
		Status: outbox.StatusInProgress,
		Payload: outbox.Payload{
			Entity: outbox.EntityMaterial,
			Op:     outbox.OpUpdate,
			JobID:  42,
			Body: &outbox.MaterialBody{
				Entries: []outbox.MaterialEntry{
					{MaterialID: 5, UserID: 9, Quantity: 2},
				},
			},
		},
	}
	if _, err := exec.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.method != http.MethodPut || rec.path != "/jobs/42/materials" {
		t.Errorf("request = %s %s, want PUT /jobs/42/materials", rec.method, rec.path)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  bool
		terminal bool
	}{
		{"ok", http.StatusOK, false, false},
		{"created", http.StatusCreated, false, false},
		{"bad request", http.StatusBadRequest, true, true},
		{"unprocessable", http.StatusUnprocessableEntity, true, true},
		{"not found", http.StatusNotFound, true, true},
		{"timeout", http.StatusRequestTimeout, true, false},
		{"rate limited", http.StatusTooManyRequests, true, false},
		{"server error", http.StatusInternalServerError, true, false},
		{"bad gateway", http.StatusBadGateway, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.status)
			if (err != nil) != tt.wantErr {
				t.Fatalf("classify(%d) error = %v, wantErr %v", tt.status, err, tt.wantErr)
			}
			if err != nil && drain.IsTerminal(err) != tt.terminal {
				t.Errorf("classify(%d) terminal = %v, want %v", tt.status, drain.IsTerminal(err), tt.terminal)
			}
		})
	}
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	exec := New(Config{BaseURL: srv.URL, Logger: log.New(io.Discard, "", 0)})
	_, err := exec.Execute(context.Background(), noteItem(outbox.OpCreate, 0, "c-1"))
	if err == nil {
		t.Fatal("expected error against closed server")
	}
	if drain.IsTerminal(err) {
		t.Error("network error classified terminal, want retryable")
	}
}

func TestCreateResponseWithoutIDIsTerminal(t *testing.T) {
	exec, _ := newTestExecutor(t, http.StatusCreated, `{}`)

	_, err := exec.Execute(context.Background(), noteItem(outbox.OpCreate, 0, "c-1"))
	if !drain.IsTerminal(err) {
		t.Errorf("create without id in response returned %v, want terminal error", err)
	}
}
