package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/llm"
	"github.com/joseph-ayodele/homework-scanner/internal/response"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

// ImproveRequest asks for one problem of one solution to be refined.
type ImproveRequest struct {
	URL        string `json:"url"`
	Index      int    `json:"index"`
	Suggestion string `json:"suggestion"`
}

// Improve refines one problem using the user's suggestion. Eligible sources are
// tried once each, active first, in registry order; the first parseable reply
// replaces the problem's answer and explanation.
func (s *Scanner) Improve(ctx context.Context, req ImproveRequest) (entity.ProblemSolution, error) {
	logger := s.logger.With("url", req.URL, "index", req.Index)

	sol, ok := s.store.Solution(req.URL)
	if !ok {
		return entity.ProblemSolution{}, common.NewAppError(common.CodeNotFound, "no solution for "+req.URL, store.ErrSolutionNotFound)
	}
	if req.Index < 0 || req.Index >= len(sol.Problems) {
		return entity.ProblemSolution{}, common.NewAppError(common.CodeNotFound,
			fmt.Sprintf("problem %d does not exist", req.Index), store.ErrProblemIndex)
	}
	item, ok := s.itemByURL(req.URL)
	if !ok {
		return entity.ProblemSolution{}, common.NewAppError(common.CodeNotFound, "no item for "+req.URL, store.ErrItemNotFound)
	}

	chain := sources.ForMime(s.sources.Snapshot().Chain(sources.NoShuffle{}), item.File.MimeType)
	if len(chain) == 0 {
		return entity.ProblemSolution{}, ErrNoSource
	}

	current := sol.Problems[req.Index]
	prompt := response.RenderImproveXML(response.ImproveRequest{
		Problem:        current.Problem,
		Answer:         current.Answer,
		Explanation:    current.Explanation,
		UserSuggestion: strings.TrimSpace(req.Suggestion),
	})
	onDelta := func(chunk string) { s.store.AppendStreamedOutput(req.URL, chunk) }

	var lastErr error
	for _, src := range chain {
		if err := ctx.Err(); err != nil {
			return entity.ProblemSolution{}, errors.Join(err, lastErr)
		}
		if src.Model == "" {
			lastErr = fmt.Errorf("%s: %w", src.Name, ErrNoModel)
			continue
		}
		client, err := s.clients(ctx, src)
		if err != nil {
			lastErr = fmt.Errorf("%s: create client: %w", src.Name, err)
			continue
		}
		client.SetSystemPrompt(llm.BuildSystemPrompt(s.improvePrompt, src.Traits))

		s.store.ClearStreamedOutput(req.URL)
		text, err := client.SendMedia(ctx, item.File.Data, item.File.MimeType, prompt, src.Model, onDelta)
		s.store.ClearStreamedOutput(req.URL)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", src.Name, err)
			logger.Warn("scan.improve.source_failed", "source_id", src.ID, "error", err)
			continue
		}
		res, ok := s.parser.Improve(text)
		if !ok {
			lastErr = fmt.Errorf("%s: %w", src.Name, ErrUnparseable)
			logger.Warn("scan.improve.unparseable", "source_id", src.ID)
			continue
		}

		if err := s.store.UpdateProblem(req.URL, req.Index, res.ImprovedAnswer, res.ImprovedExplanation); err != nil {
			return entity.ProblemSolution{}, err
		}
		logger.Info("scan.improve.ok", "source_id", src.ID)
		s.notify(Notification{Kind: NotifyImproved, Message: "Solution improved"})
		return entity.ProblemSolution{
			Problem:     current.Problem,
			Answer:      res.ImprovedAnswer,
			Explanation: res.ImprovedExplanation,
		}, nil
	}
	return entity.ProblemSolution{}, fmt.Errorf("improve failed on every source: %w", lastErr)
}

func (s *Scanner) itemByURL(url string) (entity.FileItem, bool) {
	for _, it := range s.store.Items() {
		if it.URL == url {
			return it, true
		}
	}
	return entity.FileItem{}, false
}
