package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/scan"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

// Recorder writes scan history. It receives run notifications as a
// scan.Notifier and terminal solutions from a store subscription. The
// subscription may drop events under load, so the end of every run also
// reconciles the store's terminal solutions against what was written.
type Recorder struct {
	repo    SolutionRepository
	store   store.Store
	logger  *slog.Logger
	timeout time.Duration

	saveMu  sync.Mutex // serializes fingerprint check and write
	mu      sync.Mutex
	runID   *uuid.UUID
	runErr  map[uuid.UUID]string
	written map[string]string // url -> fingerprint of the last saved record
}

var _ scan.Notifier = (*Recorder)(nil)

func NewRecorder(repo SolutionRepository, st store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:    repo,
		store:   st,
		logger:  logger,
		timeout: 5 * time.Second,
		runErr:  make(map[uuid.UUID]string),
		written: make(map[string]string),
	}
}

func (r *Recorder) Notify(n scan.Notification) {
	id, err := uuid.Parse(n.RunID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch n.Kind {
	case scan.NotifyStarted:
		r.mu.Lock()
		r.runID = &id
		r.mu.Unlock()
		if err := r.repo.StartRun(ctx, entity.ScanRun{ID: id, StartedAt: n.At, Items: n.Items}); err != nil {
			r.logger.Warn("history.run.start_failed", "run_id", id, "error", err)
		}
	case scan.NotifyRunFailed:
		r.mu.Lock()
		r.runErr[id] = n.Error
		r.mu.Unlock()
	case scan.NotifyDone:
		r.reconcile(context.Background())
		at := n.At
		run := entity.ScanRun{ID: id, FinishedAt: &at, Succeeded: n.Succeeded, Failed: n.Failed}
		r.mu.Lock()
		if msg, ok := r.runErr[id]; ok {
			run.Error = &msg
			delete(r.runErr, id)
		}
		r.mu.Unlock()
		if err := r.repo.FinishRun(ctx, run); err != nil {
			r.logger.Warn("history.run.finish_failed", "run_id", id, "error", err)
		}
	}
}

// Run consumes store events until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	events, unsubscribe := r.store.Subscribe(256)
	defer unsubscribe()
	r.logger.Info("history.recorder.started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("history.recorder.stopped")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev store.Event) {
	switch ev.Type {
	case store.EventSolutionRemoved, store.EventItemRemoved:
		r.mu.Lock()
		delete(r.written, ev.URL)
		r.mu.Unlock()
		return
	case store.EventCleared:
		r.mu.Lock()
		clear(r.written)
		r.mu.Unlock()
		return
	case store.EventSolutionUpdated:
	default:
		return
	}
	sol := ev.Solution
	if sol == nil || !sol.Status.Terminal() {
		return
	}
	item, ok := r.itemByURL(sol.URL)
	if !ok {
		return
	}
	r.save(ctx, item, *sol)
}

// reconcile writes every terminal solution in the store that differs from
// the last record saved for its URL.
func (r *Recorder) reconcile(ctx context.Context) {
	saved := 0
	for _, is := range r.store.OrderedSolutions() {
		if !is.Solution.Status.Terminal() {
			continue
		}
		if r.save(ctx, is.Item, is.Solution) {
			saved++
		}
	}
	if saved > 0 {
		r.logger.Info("history.reconciled", "saved", saved)
	}
}

// save reports whether a new record was written.
func (r *Recorder) save(ctx context.Context, item entity.FileItem, sol entity.Solution) bool {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	fp := fingerprint(sol)
	r.mu.Lock()
	if r.written[sol.URL] == fp {
		r.mu.Unlock()
		return false
	}
	runID := r.runID
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.repo.SaveSolution(ctx, runID, item, sol); err != nil {
		r.logger.Warn("history.solution.save_failed", "url", sol.URL, "error", err)
		return false
	}
	r.mu.Lock()
	r.written[sol.URL] = fp
	r.mu.Unlock()
	return true
}

func (r *Recorder) itemByURL(url string) (entity.FileItem, bool) {
	for _, it := range r.store.Items() {
		if it.URL == url {
			return it, true
		}
	}
	return entity.FileItem{}, false
}

func fingerprint(sol entity.Solution) string {
	b, _ := json.Marshal(struct {
		Status   string
		Source   string
		Problems []entity.ProblemSolution
	}{string(sol.Status), sol.AISourceID, sol.Problems})
	return string(b)
}
