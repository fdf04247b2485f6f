// Package spool ingests signature captures dropped as JSON files.
//
// The capture layer writes one file per signature into a spool directory.
// The watcher monitors that directory with fsnotify, debounces rapid
// writes so a capture is only read once its writer has settled, enqueues
// each capture as a signature create, and moves the file into an archive
// subdirectory. Files already present at startup are ingested first, so
// captures taken while the watcher was down are not lost.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// ArchiveDir is the subdirectory ingested captures are moved into.
const ArchiveDir = "archived"

// Capture is the JSON artifact the capture layer drops into the spool.
type Capture struct {
	JobID      int64  `json:"idJob"`
	SignerName string `json:"signerName"`
	SignerRole string `json:"signerRole,omitempty"`
	ImagePath  string `json:"imagePath"`
	CapturedAt int64  `json:"capturedAt"`
}

// Enqueuer accepts the signature mutations produced from captures.
type Enqueuer interface {
	Enqueue(p outbox.Payload) (outbox.Item, error)
}

// Config holds watcher configuration.
type Config struct {
	// DebounceInterval is how long a file must sit unchanged before it is
	// ingested. Batches the capture layer's write-then-rename sequences.
	DebounceInterval time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[spool] ", log.LstdFlags),
	}
}

// Watcher ingests capture files from a spool directory.
type Watcher struct {
	dir      string
	enqueuer Enqueuer
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher over the spool directory. Use Start to begin
// ingesting.
func New(dir string, enqueuer Enqueuer, config *Config) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool dir cannot be empty")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		dir:         dir,
		enqueuer:    enqueuer,
		config:      config,
		watcher:     fw,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start ingests any captures already in the spool, then watches for new
// ones. It blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.dir, ArchiveDir), 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}

	if err := w.IngestExisting(); err != nil {
		return fmt.Errorf("initial spool sweep failed: %w", err)
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}
	w.config.Logger.Printf("Watching spool: %s", w.dir)

	w.wg.Add(2)
	go w.watchFileEvents()
	go w.processChangeQueue()

	select {
	case <-ctx.Done():
		return w.Stop()
	case <-w.ctx.Done():
		return nil
	}
}

// Stop shuts the watcher down and waits for in-flight ingestion.
func (w *Watcher) Stop() error {
	w.cancel()

	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}

	w.wg.Wait()
	return nil
}

// IngestExisting sweeps the spool directory once, ingesting every capture
// file found.
func (w *Watcher) IngestExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read spool dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := w.ingest(path); err != nil {
			w.config.Logger.Printf("Warning: failed to ingest %s: %v", path, err)
		}
	}
	return nil
}

func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if filepath.Dir(event.Name) != w.dir {
				continue
			}
			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) queueChange(path string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	w.changeQueue[path] = time.Now()
}

func (w *Watcher) processChangeQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.processSettledChanges()
		}
	}
}

// processSettledChanges ingests files whose last event is older than the
// debounce interval. Files still being written keep refreshing their
// timestamp and stay queued.
func (w *Watcher) processSettledChanges() {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		delete(w.changeQueue, path)

		if err := w.ingest(path); err != nil {
			w.config.Logger.Printf("Error ingesting %s: %v", path, err)
		}
	}
}

// ingest parses one capture file, enqueues it, and archives the file.
func (w *Watcher) ingest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read capture: %w", err)
	}

	var capture Capture
	if err := json.Unmarshal(data, &capture); err != nil {
		return w.quarantine(path, fmt.Errorf("failed to parse capture: %w", err))
	}
	if capture.JobID == 0 {
		return w.quarantine(path, fmt.Errorf("capture has no job id"))
	}

	item, err := w.enqueuer.Enqueue(outbox.Payload{
		Entity: outbox.EntitySignature,
		Op:     outbox.OpCreate,
		JobID:  capture.JobID,
		Body: &outbox.SignatureBody{
			SignerName: outbox.String(capture.SignerName),
			SignerRole: optionalString(capture.SignerRole),
			ImagePath:  outbox.String(capture.ImagePath),
			CapturedAt: outbox.Int64(capture.CapturedAt),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue capture: %w", err)
	}

	w.config.Logger.Printf("Ingested capture %s as item %s (job %d)",
		filepath.Base(path), item.UID, capture.JobID)
	return w.archive(path)
}

// archive moves an ingested file out of the spool so it is not read twice.
func (w *Watcher) archive(path string) error {
	dest := filepath.Join(w.dir, ArchiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to archive capture: %w", err)
	}
	return nil
}

// quarantine renames an unreadable capture aside so it stops being
// retried, and returns err for logging.
func (w *Watcher) quarantine(path string, cause error) error {
	if err := os.Rename(path, path+".bad"); err != nil {
		w.config.Logger.Printf("Warning: failed to quarantine %s: %v", path, err)
	}
	return cause
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return outbox.String(s)
}
