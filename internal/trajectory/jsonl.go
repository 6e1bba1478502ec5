package trajectory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/haasonsaas/recurse/pkg/models"
)

// runHeader is the first line of every JSONL trajectory file.
type runHeader struct {
	Type         string    `json:"type"`
	TrajectoryID string    `json:"trajectory_id"`
	StartedAt    time.Time `json:"started_at"`
}

// JSONLSink appends events to a writer, one self-contained JSON object
// per line, preceded by a run header.
type JSONLSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	enc    *json.Encoder
}

// NewJSONLSink writes the run header and returns a sink over w.
func NewJSONLSink(w io.Writer, trajectoryID string) (*JSONLSink, error) {
	s := &JSONLSink{w: w, enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	header := runHeader{Type: "run_header", TrajectoryID: trajectoryID, StartedAt: time.Now().UTC()}
	if err := s.enc.Encode(header); err != nil {
		return nil, fmt.Errorf("trajectory: write header: %w", err)
	}
	return s, nil
}

// OpenJSONLFile opens (appending) a trajectory file and writes the header.
func OpenJSONLFile(path, trajectoryID string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trajectory: open %s: %w", path, err)
	}
	sink, err := NewJSONLSink(f, trajectoryID)
	if err != nil {
		f.Close()
		return nil, err
	}
	return sink, nil
}

// Write appends one event line.
func (s *JSONLSink) Write(event models.TrajectoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(event)
}

// Close closes the underlying file when the sink owns one.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
