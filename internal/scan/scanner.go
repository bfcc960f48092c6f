// Package scan runs pending items through the configured AI sources with a
// bounded worker pool, per-source retries and ordered fallback.
package scan

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/homework-scanner/internal/llm"
	"github.com/joseph-ayodele/homework-scanner/internal/llm/provider"
	"github.com/joseph-ayodele/homework-scanner/internal/response"
	"github.com/joseph-ayodele/homework-scanner/internal/retry"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

// DefaultConcurrency is the worker pool size.
const DefaultConcurrency = 4

// SourceSnapshotter supplies the read-only source view for one run.
type SourceSnapshotter interface {
	Snapshot() sources.Snapshot
}

// Scanner is the scan orchestrator. One run may be active at a time.
type Scanner struct {
	store    store.Store
	sources  SourceSnapshotter
	clients  provider.Factory
	shuffler sources.Shuffler
	parser   *response.Parser
	notifier Notifier
	logger   *slog.Logger

	concurrency   int
	policy        retry.Policy
	solvePrompt   string
	systemPrompt  string
	improvePrompt string
	now           func() time.Time

	running atomic.Bool
}

type Option func(*Scanner)

func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRetryPolicy sets the per-source retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Scanner) { s.policy = p }
}

func WithShuffler(sh sources.Shuffler) Option {
	return func(s *Scanner) {
		if sh != nil {
			s.shuffler = sh
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Scanner) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSystemPrompts overrides the solve and improve system prompts. Empty values keep the defaults.
func WithSystemPrompts(solve, improve string) Option {
	return func(s *Scanner) {
		if solve != "" {
			s.systemPrompt = solve
		}
		if improve != "" {
			s.improvePrompt = improve
		}
	}
}

func New(st store.Store, srcs SourceSnapshotter, clients provider.Factory, opts ...Option) *Scanner {
	s := &Scanner{
		store:         st,
		sources:       srcs,
		clients:       clients,
		shuffler:      sources.NewShuffler(0),
		notifier:      Notifiers{},
		logger:        slog.Default(),
		concurrency:   DefaultConcurrency,
		policy:        retry.Default(),
		solvePrompt:   llm.SolveUserPrompt,
		systemPrompt:  llm.SolveSystemPrompt,
		improvePrompt: llm.ImproveSystemPrompt,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.parser = response.NewParser(s.logger)
	return s
}

// Running reports whether a run is in progress.
func (s *Scanner) Running() bool { return s.running.Load() }

func (s *Scanner) notify(n Notification) {
	n.At = s.now()
	s.notifier.Notify(n)
}
