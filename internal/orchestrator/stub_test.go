package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cardforge/internal/adapter/repo"
	"cardforge/internal/domain"
	"cardforge/internal/infra"
	"cardforge/internal/kv"
	"cardforge/internal/providers/image"
	"cardforge/internal/providers/prompt"
)

// stubBackend is a scriptable image.Backend. Jobs start out processing;
// tests flip them to completed or failed to control completion order.
type stubBackend struct {
	mu       sync.Mutex
	started  []startedJob
	states   map[string]*image.JobStatus
	queryErr map[string]error
	startErr error
}

type startedJob struct {
	remoteID string
	prompt   string
	cfg      image.GenerationConfig
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		states:   make(map[string]*image.JobStatus),
		queryErr: make(map[string]error),
	}
}

func (b *stubBackend) Start(ctx context.Context, prompt string, cfg image.GenerationConfig) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return "", b.startErr
	}
	id := fmt.Sprintf("remote-%d", len(b.started))
	b.started = append(b.started, startedJob{remoteID: id, prompt: prompt, cfg: cfg})
	b.states[id] = &image.JobStatus{State: image.JobStateProcessing}
	return id, nil
}

func (b *stubBackend) Status(ctx context.Context, remoteID string) (*image.JobStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.queryErr[remoteID]; err != nil {
		return nil, err
	}
	st, ok := b.states[remoteID]
	if !ok {
		return nil, errors.New("stub: unknown remote job")
	}
	cp := *st
	return &cp, nil
}

// remoteFor finds the remote id of the job whose prompt contains substr.
func (b *stubBackend) remoteFor(t *testing.T, substr string) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.started {
		if strings.Contains(s.prompt, substr) {
			return s.remoteID
		}
	}
	t.Fatalf("no started job matches %q", substr)
	return ""
}

func (b *stubBackend) complete(remoteID string, urls []string, style string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[remoteID] = &image.JobStatus{
		State:        image.JobStateCompleted,
		ImageURLs:    urls,
		StyleVariant: style,
	}
}

func (b *stubBackend) fail(remoteID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[remoteID] = &image.JobStatus{State: image.JobStateFailed, Reason: reason}
}

func (b *stubBackend) preload(remoteID string, st *image.JobStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[remoteID] = st
}

func (b *stubBackend) startedJobs() []startedJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]startedJob(nil), b.started...)
}

// fakePrompts is a deterministic prompt.Service whose front prompts encode
// the variation index, so tests can address remote jobs per variation.
type fakePrompts struct {
	frontErr error
	panelErr error
}

func (f fakePrompts) FrontPrompts(ctx context.Context, req prompt.FrontRequest) ([]prompt.FrontPrompt, error) {
	if f.frontErr != nil {
		return nil, f.frontErr
	}
	prompts := make([]prompt.FrontPrompt, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		prompts = append(prompts, prompt.FrontPrompt{
			VariationIndex: i,
			Text:           fmt.Sprintf("front-%d for %s", i, req.Card.Theme),
			StyleVariant:   prompt.StylePalette[i%len(prompt.StylePalette)],
		})
	}
	return prompts, nil
}

func (f fakePrompts) PanelPrompts(ctx context.Context, req prompt.PanelRequest) (*domain.PanelPrompts, error) {
	if f.panelErr != nil {
		return nil, f.panelErr
	}
	return &domain.PanelPrompts{
		Front:         req.Anchor,
		Back:          "back matching anchor",
		InteriorLeft:  "interior left matching anchor",
		InteriorRight: "interior right matching anchor",
	}, nil
}

func (f fakePrompts) CardCopy(ctx context.Context, req prompt.CopyRequest) (string, error) {
	return "Warmest wishes!", nil
}

type fakeShare struct {
	mu     sync.Mutex
	url    string
	err    error
	stored []domain.Card
}

func (f *fakeShare) Store(ctx context.Context, card domain.Card) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, card)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

// testHarness bundles an orchestrator with its collaborators.
type testHarness struct {
	orch    *Orchestrator
	backend *stubBackend
	jobs    *repo.JobStore
	share   *fakeShare
	events  <-chan Event
}

func testLogger() infra.Logger {
	return zerolog.New(io.Discard)
}

func fastPoll() PollConfig {
	return PollConfig{
		Interval:       time.Millisecond,
		BackoffBase:    time.Millisecond,
		BackoffCeiling: 2 * time.Millisecond,
	}
}

func newHarness(t *testing.T, backingKV kv.Store) *testHarness {
	t.Helper()
	if backingKV == nil {
		backingKV = kv.NewMemory()
	}
	backend := newStubBackend()
	jobs := repo.NewJobStore(backingKV)
	shareSvc := &fakeShare{url: "https://cards.example/s/test"}
	orch := New(Options{
		Jobs:    jobs,
		Prompts: fakePrompts{},
		Images:  backend,
		Share:   shareSvc,
		Poll:    fastPoll(),
		Logger:  testLogger(),
		Model:   "artisan-xl",
	})
	t.Cleanup(orch.Stop)
	events, cancel := orch.Subscribe()
	t.Cleanup(cancel)
	return &testHarness{orch: orch, backend: backend, jobs: jobs, share: shareSvc, events: events}
}

// waitEvent reads events until one of the wanted type arrives.
func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

// expectNoEvent asserts that no event of the given type arrives within the
// observation window.
func expectNoEvent(t *testing.T, ch <-chan Event, unwanted EventType, window time.Duration) {
	t.Helper()
	timer := time.After(window)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == unwanted {
				t.Fatalf("unexpected event %s: %+v", unwanted, ev)
			}
		case <-timer:
			return
		}
	}
}

// waitRemoved polls the job store until the record disappears.
func waitRemoved(t *testing.T, jobs *repo.JobStore, jobID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := jobs.Get(context.Background(), jobID); errors.Is(err, domain.ErrNotFound) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s was never removed from the store", jobID)
}
