// Package httpstore implements the persisted-log collaborator: a metadata
// table (sqlite) plus blob JSON files on disk, with a ripgrep-backed
// full-text search facility and a read-only mirrored view for manual
// inspection. Writes go through a single background writer; write failures
// are logged and never propagate to the caller.
package httpstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taipm/llmproxy/internal/logging"
	"github.com/taipm/llmproxy/internal/perrors"
	"github.com/taipm/llmproxy/internal/pipeline"
)

// Record is one row of the exchanges metadata table, the mirrored
// client-visible view of a logged exchange.
type Record struct {
	ID         int64
	RequestID  string
	Method     string
	URL        string
	StatusCode int
	Model      string
	Provider   string
	Operation  string
	CreatedAt  time.Time
}

// Match is one ripgrep hit from Search.
type Match struct {
	Path string
	Line int
	Text string
}

// Store is the log store: a single background writer draining an
// append-only channel serializes all disk writes, while readers run
// concurrently against the sqlite table and the blob files under BlobRoot.
type Store struct {
	db       *sql.DB
	blobRoot string
	log      logging.Logger

	queue chan pipeline.Exchange
	done  chan struct{}
}

// Open creates (if needed) the sqlite metadata table at dbPath and the blob
// root directory, and starts the background writer goroutine. batchSize
// controls how many queued appends the writer drains before yielding.
func Open(dbPath, blobRoot string, batchSize int, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Noop{}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && filepath.Dir(dbPath) != "." {
		return nil, perrors.New("httpstore", "Open", perrors.ErrInvalidConfig, err)
	}
	if err := os.MkdirAll(blobRoot, 0o755); err != nil {
		return nil, perrors.New("httpstore", "Open", perrors.ErrInvalidConfig, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, perrors.New("httpstore", "Open", perrors.ErrInvalidConfig, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline

	if _, err := db.Exec(schema); err != nil {
		return nil, perrors.New("httpstore", "Open", perrors.ErrInvalidConfig, err)
	}

	if batchSize < 1 {
		batchSize = 1
	}

	s := &Store{
		db:       db,
		blobRoot: blobRoot,
		log:      log,
		queue:    make(chan pipeline.Exchange, 256),
		done:     make(chan struct{}),
	}
	go s.run(batchSize)
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	method TEXT NOT NULL DEFAULT 'POST',
	url TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	operation TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS exchanges_request_id ON exchanges(request_id);
`

// Append enqueues ex for durable persistence. It never blocks the caller on
// disk I/O; if the queue is momentarily full the exchange is dropped and
// logged.
func (s *Store) Append(ctx context.Context, ex pipeline.Exchange) {
	select {
	case s.queue <- ex:
	default:
		s.log.Warn(ctx, "httpstore: append queue full, dropping exchange", logging.F("requestId", ex.RequestID))
	}
}

// run is the single background writer; it drains up to batchSize queued
// exchanges per wakeup and persists each one (metadata row + blob files).
func (s *Store) run(batchSize int) {
	for ex := range s.queue {
		batch := []pipeline.Exchange{ex}
		batch = s.drainUpTo(batch, batchSize)
		s.writeBatch(batch)
	}
	close(s.done)
}

// drainUpTo opportunistically pulls any already-queued exchanges onto batch
// without blocking, up to batchSize total.
func (s *Store) drainUpTo(batch []pipeline.Exchange, batchSize int) []pipeline.Exchange {
	for len(batch) < batchSize {
		select {
		case next, ok := <-s.queue:
			if !ok {
				return batch
			}
			batch = append(batch, next)
		default:
			return batch
		}
	}
	return batch
}

func (s *Store) writeBatch(batch []pipeline.Exchange) {
	for _, ex := range batch {
		s.writeOne(ex)
	}
}

func (s *Store) writeOne(ex pipeline.Exchange) {
	ctx := context.Background()
	method := ex.Method
	if method == "" {
		method = "POST"
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (request_id, method, url, status_code, model, provider, operation, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.RequestID, method, ex.URL, ex.StatusCode, ex.Model, ex.Provider, string(ex.Operation), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		s.log.Warn(ctx, "httpstore: metadata insert failed", logging.F("requestId", ex.RequestID), logging.F("error", err.Error()))
	}

	dir := filepath.Join(s.blobRoot, ex.RequestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn(ctx, "httpstore: blob dir create failed", logging.F("requestId", ex.RequestID), logging.F("error", err.Error()))
		return
	}
	s.writeBlob(dir, "request.json", ex.RequestBody)
	s.writeBlob(dir, "response.json", ex.ResponseBody)
	s.writeBlob(dir, "provider-request.json", ex.ProviderRequestBody)
	s.writeBlob(dir, "provider-response.json", ex.ProviderResponseBody)
}

func (s *Store) writeBlob(dir, name string, v any) {
	if v == nil {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn(context.Background(), "httpstore: blob write failed", logging.F("path", path), logging.F("error", err.Error()))
	}
}

// Close stops accepting new appends and waits for the writer to drain.
func (s *Store) Close() error {
	close(s.queue)
	<-s.done
	return s.db.Close()
}

// List returns the most recent exchanges (newest first), for the mirrored
// client-visible view exposed by internal/httpapi's GET /v1/exchanges.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, method, url, status_code, model, provider, operation, created_at
		 FROM exchanges ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var createdAt string
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Method, &r.URL, &r.StatusCode, &r.Model, &r.Provider, &r.Operation, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Search shells out to ripgrep against BlobRoot. Returns
// ErrSearchUnavailable if rg isn't on PATH rather than silently degrading.
func (s *Store) Search(ctx context.Context, query string) ([]Match, error) {
	if _, err := exec.LookPath("rg"); err != nil {
		return nil, perrors.New("httpstore", "Search", perrors.ErrSearchUnavailable, err)
	}

	cmd := exec.CommandContext(ctx, "rg", "--line-number", "--no-heading", "--fixed-strings", query, s.blobRoot)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil // no matches, not an error
		}
		return nil, fmt.Errorf("httpstore: rg search failed: %w", err)
	}

	return parseRipgrepOutput(string(out)), nil
}
