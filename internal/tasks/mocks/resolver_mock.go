package mocks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/copyleftdev/postscry/internal/content"
)

// MockResolver implements tasks.MediaResolver without touching the disk.
// Every planned ref resolves to an item whose path equals the ref.
type MockResolver struct {
	mu       sync.Mutex
	calls    []content.Refs
	released atomic.Int32

	Limits content.Limits
	Err    error
	// Panic, when set, is raised from Resolve.
	Panic any
}

func NewMockResolver() *MockResolver {
	return &MockResolver{Limits: content.DefaultLimits}
}

func (m *MockResolver) Plan(refs content.Refs) *content.Plan {
	return content.BuildPlan(refs, m.Limits)
}

func (m *MockResolver) Resolve(ctx context.Context, refs content.Refs) (*content.Resolution, error) {
	m.mu.Lock()
	m.calls = append(m.calls, refs)
	m.mu.Unlock()

	if m.Panic != nil {
		panic(m.Panic)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plan := m.Plan(refs)
	res := &content.Resolution{Warnings: plan.Warnings, Truncated: plan.Truncated}
	res.OnRelease(func() { m.released.Add(1) })
	for _, p := range plan.Entries {
		kind := content.KindImage
		if p.Slot == content.SlotVideo {
			kind = content.KindVideo
		}
		res.Items = append(res.Items, content.Item{Path: p.Ref, Slot: p.Slot, Kind: kind, Origin: p.Ref})
	}
	return res, nil
}

func (m *MockResolver) Calls() []content.Refs {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]content.Refs(nil), m.calls...)
}

// Released counts resolutions handed back by their task.
func (m *MockResolver) Released() int {
	return int(m.released.Load())
}
