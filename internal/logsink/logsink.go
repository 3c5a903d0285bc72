// Package logsink appends structured request records to the durable,
// append-only CSV audit log that the dashboard reads from.
package logsink

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

var header = []string{"timestamp", "backend_url", "latency_ms", "status_code", "routing_mode"}

// Record is one immutable, append-only log entry. StatusCode is nil on the
// synthetic-error paths (timeout, transport error, or timing never started),
// which carry no backend status.
type Record struct {
	Timestamp   time.Time
	Backend     string
	LatencyMs   int
	StatusCode  *int
	RoutingMode string
}

// Sink is a concurrency-safe append-only CSV writer over a single log file.
type Sink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
	logger *slog.Logger
}

// Open creates path if it does not exist or is empty, writing the CSV
// header, then returns a Sink ready to append records.
func Open(path string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	needsHeader := true
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		needsHeader = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	s := &Sink{path: path, file: f, writer: w, logger: logger}

	if needsHeader {
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write log header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush log header: %w", err)
		}
	}

	return s, nil
}

// Append writes one record as a CSV row and flushes it before returning, so
// the dashboard sees near-live data. Write failures are logged and swallowed
// — they never fail the client request that produced the record.
func (s *Sink) Append(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ""
	if r.StatusCode != nil {
		status = strconv.Itoa(*r.StatusCode)
	}

	row := []string{
		r.Timestamp.Format(time.RFC3339Nano),
		r.Backend,
		strconv.Itoa(r.LatencyMs),
		status,
		r.RoutingMode,
	}

	if err := s.writer.Write(row); err != nil {
		s.logger.Warn("log append failed", "error", err, "path", s.path)
		return
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.logger.Warn("log flush failed", "error", err, "path", s.path)
	}
}

// Close releases the underlying file handle.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Flush()
	return s.file.Close()
}
