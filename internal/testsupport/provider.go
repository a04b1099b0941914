package testsupport

import (
	"context"
	"sync"
	"time"

	"sentinel/internal/scoring"
	"sentinel/internal/store"
)

// FakeProvider returns a fixed score, error, or stall for one scoring kind.
type FakeProvider struct {
	kind  scoring.Kind
	score float64
	flags []string
	err   error
	stall time.Duration

	mu    sync.Mutex
	calls []string
}

// NewFakeProvider scores every submission at score.
func NewFakeProvider(kind scoring.Kind, score float64, flags ...string) *FakeProvider {
	return &FakeProvider{kind: kind, score: score, flags: flags}
}

// Failing makes every call return err.
func (f *FakeProvider) Failing(err error) *FakeProvider {
	f.err = err
	return f
}

// Stalling makes every call block for d or until its context ends.
func (f *FakeProvider) Stalling(d time.Duration) *FakeProvider {
	f.stall = d
	return f
}

func (f *FakeProvider) Kind() scoring.Kind { return f.kind }

func (f *FakeProvider) Score(ctx context.Context, sub *store.Submission, _ scoring.Context) (scoring.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sub.ID)
	f.mu.Unlock()

	if f.stall > 0 {
		select {
		case <-ctx.Done():
			return scoring.Result{}, ctx.Err()
		case <-time.After(f.stall):
		}
	}
	if f.err != nil {
		return scoring.Result{}, f.err
	}
	return scoring.Result{RiskScore: f.score, Flags: append([]string(nil), f.flags...)}, nil
}

// Calls returns the submission IDs scored so far.
func (f *FakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
