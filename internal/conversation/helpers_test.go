package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/medassist-platform/internal/llm"
	"github.com/wolfman30/medassist-platform/internal/portal"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

type stubGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llm.Turn
	ctxs    []portal.Context
}

func (g *stubGenerator) Generate(_ context.Context, turns []llm.Turn, _ portal.Portal, userContext portal.Context) (llm.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, append([]llm.Turn(nil), turns...))
	g.ctxs = append(g.ctxs, userContext.Clone())
	if g.err != nil {
		return llm.Result{}, g.err
	}
	reply := "Please monitor your symptoms."
	if len(g.replies) > 0 {
		reply = g.replies[0]
		if len(g.replies) > 1 {
			g.replies = g.replies[1:]
		}
	}
	return llm.Result{
		Content: reply,
		Usage:   llm.ResultUsage{Model: "gpt-4", Tokens: 42},
		Latency: 120 * time.Millisecond,
	}, nil
}

func (g *stubGenerator) lastTurns() []llm.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return nil
	}
	return g.calls[len(g.calls)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ReviewEvent
}

func (p *recordingPublisher) PublishReviewRequested(_ context.Context, evt ReviewEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type recordingAudit struct {
	mu        sync.Mutex
	decisions []string
	emergency []string
}

func (a *recordingAudit) LogReviewDecision(_ context.Context, conversationID, _, reviewerID, decision, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisions = append(a.decisions, conversationID+":"+reviewerID+":"+decision)
	return nil
}

func (a *recordingAudit) LogEmergencyReply(_ context.Context, conversationID, _, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emergency = append(a.emergency, conversationID)
	return nil
}

type recordingStats struct {
	mu    sync.Mutex
	stats []ResponseStat
}

func (r *recordingStats) RecordResponse(_ context.Context, stat ResponseStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, stat)
	return nil
}

func newTestService(t *testing.T, gen Generator, opts ...ServiceOption) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store, gen, logging.NewWithWriter("error", discard{}), opts...), store
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func patient(id string) Caller { return Caller{UserID: id, Role: "patient"} }
