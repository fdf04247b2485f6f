// Package httpexec replays outbox items against the backend REST API.
//
// Creates POST under the job, updates PUT and deletes DELETE the entity
// resource by server id. Failures are classified for the drainer: network
// errors and 408/429/5xx responses are retryable, other 4xx responses are
// terminal.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fieldops/fieldsync/internal/outbox"
	"github.com/fieldops/fieldsync/internal/outbox/drain"
)

// DefaultTimeout bounds a single replay request.
const DefaultTimeout = 30 * time.Second

// Config holds executor configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com/v1".
	BaseURL string

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	// Client overrides the HTTP client. Defaults to one with
	// DefaultTimeout.
	Client *http.Client

	// Logger for request activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Executor implements drain.Executor over the backend REST API.
type Executor struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *log.Logger
}

// New creates an executor for the given backend.
func New(config Config) *Executor {
	if config.Client == nil {
		config.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[httpexec] ", log.LstdFlags)
	}
	return &Executor{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.AuthToken,
		client:  config.Client,
		logger:  config.Logger,
	}
}

var entityPaths = map[outbox.Entity]string{
	outbox.EntityNote:      "notes",
	outbox.EntitySignature: "signatures",
	outbox.EntityMaterial:  "materials",
	outbox.EntityReport:    "reports",
}

// Execute sends one outbox item to the backend.
func (e *Executor) Execute(ctx context.Context, item outbox.Item) (drain.Result, error) {
	p := item.Payload

	segment, ok := entityPaths[p.Entity]
	if !ok {
		return drain.Result{}, drain.Terminal(fmt.Errorf("unknown entity %q", p.Entity))
	}

	method, url, err := e.route(p, segment)
	if err != nil {
		return drain.Result{}, err
	}

	var body io.Reader
	if method != http.MethodDelete {
		data, err := json.Marshal(p)
		if err != nil {
			return drain.Result{}, drain.Terminal(fmt.Errorf("failed to encode payload: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return drain.Result{}, drain.Terminal(fmt.Errorf("failed to build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return drain.Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := classify(resp.StatusCode); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return drain.Result{}, err
	}

	if p.Op == outbox.OpCreate {
		return decodeCreated(resp.Body)
	}
	return drain.Result{}, nil
}

// route picks the method and URL for an item.
//
// An update or delete that still addresses its entity only by clientId has
// no server resource yet; it is reported as retryable so it stays queued
// until the pending create confirms and retargeting stamps the id on.
func (e *Executor) route(p outbox.Payload, segment string) (string, string, error) {
	switch p.Op {
	case outbox.OpCreate:
		return http.MethodPost, fmt.Sprintf("%s/jobs/%d/%s", e.baseURL, p.JobID, segment), nil

	case outbox.OpUpdate:
		if isBatchMaterialList(p) {
			return http.MethodPut, fmt.Sprintf("%s/jobs/%d/%s", e.baseURL, p.JobID, segment), nil
		}
		if p.ID == 0 {
			return "", "", fmt.Errorf("update for %s in job %d has no server id yet", p.Entity, p.JobID)
		}
		return http.MethodPut, fmt.Sprintf("%s/%s/%d", e.baseURL, segment, p.ID), nil

	case outbox.OpDelete:
		if p.ID == 0 {
			return "", "", fmt.Errorf("delete for %s in job %d has no server id yet", p.Entity, p.JobID)
		}
		return http.MethodDelete, fmt.Sprintf("%s/%s/%d", e.baseURL, segment, p.ID), nil

	default:
		return "", "", drain.Terminal(fmt.Errorf("unknown op %q", p.Op))
	}
}

func isBatchMaterialList(p outbox.Payload) bool {
	b, ok := p.Body.(*outbox.MaterialBody)
	return ok && len(b.Entries) > 0 && p.ID == 0 && p.ClientID == ""
}

// classify maps a response status to nil, a retryable error, or a terminal
// one.
func classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return fmt.Errorf("server returned %d", status)
	default:
		return drain.Terminal(fmt.Errorf("server rejected request with %d", status))
	}
}

func decodeCreated(r io.Reader) (drain.Result, error) {
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r).Decode(&created); err != nil {
		return drain.Result{}, drain.Terminal(fmt.Errorf("failed to decode create response: %w", err))
	}
	if created.ID == 0 {
		return drain.Result{}, drain.Terminal(fmt.Errorf("create response carried no id"))
	}
	return drain.Result{ServerID: created.ID}, nil
}
