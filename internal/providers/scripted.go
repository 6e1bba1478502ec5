package providers

import (
	"context"
	"errors"
	"sync"

	"github.com/haasonsaas/recurse/pkg/models"
)

// Turn is one scripted completion outcome.
type Turn struct {
	Text      string
	ToolCalls []models.ToolCall
	Usage     models.Usage
	Err       error
}

// Scripted replays a fixed sequence of turns in order. It records every
// request it receives so tests can assert on prompt construction. Once the
// script is exhausted further calls fail.
type Scripted struct {
	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []*Request
}

// NewScripted creates a provider that plays back the given turns.
func NewScripted(turns ...Turn) *Scripted {
	return &Scripted{turns: turns}
}

func (s *Scripted) Name() string { return "scripted" }

// Complete pops the next scripted turn.
func (s *Scripted) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.next >= len(s.turns) {
		return nil, errors.New("scripted: no more turns")
	}
	turn := s.turns[s.next]
	s.next++
	if turn.Err != nil {
		return nil, turn.Err
	}
	resp := &Response{
		Text:      turn.Text,
		ToolCalls: turn.ToolCalls,
		Usage:     turn.Usage,
	}
	if req.ForceJSON {
		resp.Parsed = parseLoose(resp.Text)
	}
	return resp, nil
}

// Stream replays the next turn's text as a single chunk.
func (s *Scripted) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if len(req.Tools) > 0 {
		return nil, ErrStreamWithTools
	}
	resp, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	chunks := make(chan Chunk, 2)
	if resp.Text != "" {
		chunks <- Chunk{Text: resp.Text}
	}
	usage := resp.Usage
	chunks <- Chunk{Done: true, Usage: &usage}
	close(chunks)
	return chunks, nil
}

// Requests returns a copy of every request seen so far.
func (s *Scripted) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns how many completions were requested.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
