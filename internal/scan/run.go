package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/llm"
	"github.com/joseph-ayodele/homework-scanner/internal/retry"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailed
	outcomeGone // removed from the store mid-run
)

// Summary describes a finished run.
type Summary struct {
	RunID     uuid.UUID     `json:"run_id"`
	Items     int           `json:"items"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"` // never claimed because the run was cancelled
	Elapsed   time.Duration `json:"elapsed"`
}

// Preflight checks the run preconditions against a source snapshot and the
// items that would be processed.
func Preflight(snap sources.Snapshot, todo []entity.FileItem) error {
	eligible := snap.Eligible()
	if len(eligible) == 0 {
		return ErrNoSource
	}
	for _, src := range eligible {
		if src.Model == "" {
			return common.NewAppError(common.CodeNoModel, fmt.Sprintf("source %q has no model selected", src.Name), nil)
		}
	}
	for _, it := range todo {
		if it.IsPDF() && !snap.AnySupportsPDF() {
			return common.NewAppError(common.CodePDFBlocked,
				fmt.Sprintf("%q is a PDF but no enabled source supports PDFs", it.File.Name), nil)
		}
	}
	if len(todo) == 0 {
		return ErrNothingToDo
	}
	return nil
}

// Pending returns the items a run would pick up.
func Pending(items []entity.FileItem) []entity.FileItem {
	out := make([]entity.FileItem, 0, len(items))
	for _, it := range items {
		if it.Status.Dispatchable() {
			out = append(out, it)
		}
	}
	return out
}

// Run processes every pending or failed item. Precondition failures return
// before any network call. Per-item failures are recorded in the store and do
// not fail the run; only unexpected errors outside an item's scope do.
func (s *Scanner) Run(ctx context.Context) (sum Summary, err error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	snap := s.sources.Snapshot()
	todo := Pending(s.store.Items())
	if err := Preflight(snap, todo); err != nil {
		s.logger.Info("scan.preflight.rejected", "code", common.CodeOf(err), "error", err)
		return Summary{}, err
	}

	sum = Summary{RunID: uuid.New(), Items: len(todo)}
	ctx = common.WithRunID(ctx, sum.RunID.String())
	logger := common.LoggerFromContext(ctx, s.logger)
	start := s.now()

	workers := min(s.concurrency, len(todo))
	logger.Info("scan.run.start", "items", len(todo), "workers", workers, "sources", len(snap.Eligible()))
	s.notify(Notification{
		Kind:    NotifyStarted,
		RunID:   sum.RunID.String(),
		Message: fmt.Sprintf("Sending %d item(s) to AI sources", len(todo)),
		Items:   len(todo),
	})
	s.store.SetWorking(true)

	var (
		succeeded, failed atomic.Int64
		claimed           atomic.Int64
		runErr            error
	)
	defer func() {
		s.store.SetWorking(false)
		sum.Succeeded = int(succeeded.Load())
		sum.Failed = int(failed.Load())
		sum.Skipped = sum.Items - sum.Succeeded - sum.Failed
		sum.Elapsed = s.now().Sub(start)
		if runErr != nil {
			s.notify(Notification{
				Kind:    NotifyRunFailed,
				RunID:   sum.RunID.String(),
				Message: "An unexpected error occurred during the scan",
				Error:   runErr.Error(),
			})
		}
		s.notify(Notification{
			Kind:      NotifyDone,
			RunID:     sum.RunID.String(),
			Message:   "All done",
			Items:     sum.Items,
			Succeeded: sum.Succeeded,
			Failed:    sum.Failed,
		})
		logger.Info("scan.run.done",
			"succeeded", sum.Succeeded,
			"failed", sum.Failed,
			"skipped", sum.Skipped,
			"elapsed_ms", sum.Elapsed.Milliseconds(),
			"error", runErr,
		)
	}()

	urls := make([]string, len(todo))
	for i, it := range todo {
		urls[i] = it.URL
	}
	s.store.RemoveSolutionsByURLs(urls...)

	n := int64(len(todo))
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("scan worker %d panicked: %v\n%s", w, r, debug.Stack())
				}
			}()
			for {
				if gctx.Err() != nil {
					return nil
				}
				i := claimed.Add(1) - 1
				if i >= n {
					return nil
				}
				res, err := s.processItem(gctx, logger, snap, todo[i])
				if err != nil {
					return err
				}
				switch res {
				case outcomeSuccess:
					succeeded.Add(1)
				case outcomeFailed:
					failed.Add(1)
				}
			}
		})
	}
	runErr = g.Wait()
	return sum, runErr
}

// processItem runs one item through its fallback chain. A non-nil error means
// the store rejected a write.
func (s *Scanner) processItem(ctx context.Context, logger *slog.Logger, snap sources.Snapshot, item entity.FileItem) (outcome, error) {
	logger = logger.With("item_id", item.ID, "file", item.File.Name)
	start := s.now()

	if err := s.store.UpdateItemStatus(item.ID, constants.ItemProcessing); err != nil {
		return s.itemGone(logger, item, err)
	}
	s.store.PutSolution(entity.Solution{URL: item.URL, Status: constants.SolutionProcessing})

	chain := sources.ForMime(snap.Chain(s.shuffler), item.File.MimeType)
	lastErr := fmt.Errorf("no source accepts %s", item.File.MimeType)

	for _, src := range chain {
		if ctx.Err() != nil {
			lastErr = errors.Join(ctx.Err(), lastErr)
			break
		}
		srcLog := logger.With("source_id", src.ID, "provider", src.Provider)

		problems, err := s.solveWith(ctx, srcLog, src, item)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", src.Name, err)
			s.store.ClearStreamedOutput(item.URL)
			srcLog.Warn("scan.item.source_failed", "error", err)
			continue
		}

		s.store.PutSolution(entity.Solution{
			URL:        item.URL,
			Status:     constants.SolutionSuccess,
			Problems:   problems,
			AISourceID: src.ID,
		})
		if err := s.store.UpdateItemStatus(item.ID, constants.ItemSuccess); err != nil {
			return s.itemGone(logger, item, err)
		}
		srcLog.Info("scan.item.success", "problems", len(problems), "elapsed_ms", s.now().Sub(start).Milliseconds())
		return outcomeSuccess, nil
	}

	s.store.PutSolution(entity.Solution{
		URL:      item.URL,
		Status:   constants.SolutionFailed,
		Problems: []entity.ProblemSolution{FailureRecord(lastErr)},
	})
	if err := s.store.UpdateItemStatus(item.ID, constants.ItemFailed); err != nil {
		return s.itemGone(logger, item, err)
	}
	logger.Error("scan.item.failed", "error", lastErr, "sources", len(chain), "elapsed_ms", s.now().Sub(start).Milliseconds())
	return outcomeFailed, nil
}

// solveWith retries SendMedia against one source, then parses the final text.
// A parse failure is returned like any other error so the caller moves on.
func (s *Scanner) solveWith(ctx context.Context, logger *slog.Logger, src sources.Source, item entity.FileItem) ([]entity.ProblemSolution, error) {
	client, err := s.clients(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	client.SetSystemPrompt(llm.BuildSystemPrompt(s.systemPrompt, src.Traits))

	policy := s.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("scan.item.retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
	}
	onDelta := func(chunk string) { s.store.AppendStreamedOutput(item.URL, chunk) }

	text, err := retry.Do(ctx, func(ctx context.Context, attempt int) (string, error) {
		if attempt > 1 {
			s.store.ClearStreamedOutput(item.URL)
		}
		return client.SendMedia(ctx, item.File.Data, item.File.MimeType, s.solvePrompt, src.Model, onDelta)
	}, policy)
	if err != nil {
		return nil, err
	}

	parsed, ok := s.parser.Solve(text)
	if !ok {
		return nil, ErrUnparseable
	}
	return parsed.Problems, nil
}

// itemGone handles a status write for an item removed mid-run. The orphaned
// solution is dropped.
func (s *Scanner) itemGone(logger *slog.Logger, item entity.FileItem, err error) (outcome, error) {
	if !errors.Is(err, store.ErrItemNotFound) {
		return outcomeFailed, fmt.Errorf("update item %s: %w", item.ID, err)
	}
	s.store.RemoveSolutionsByURLs(item.URL)
	logger.Warn("scan.item.removed_mid_run")
	return outcomeGone, nil
}

// FailureRecord is the synthetic problem written when every source failed.
func FailureRecord(err error) entity.ProblemSolution {
	explanation := "unknown error"
	if err != nil {
		explanation = err.Error()
	}
	return entity.ProblemSolution{
		Problem:     FailureProblem,
		Answer:      FailureAnswer,
		Explanation: explanation,
	}
}
