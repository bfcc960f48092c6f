// Package export renders solutions as XLSX workbooks.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/repository"
)

// maxCellChars is the XLSX limit for a single cell.
const maxCellChars = 32767

// SolutionLister is the read side of the store used for live exports.
type SolutionLister interface {
	OrderedSolutions() []entity.ItemSolution
}

// Service produces XLSX bytes for the current session or for recorded history.
type Service struct {
	live    SolutionLister
	history repository.SolutionRepository // nil when no database is configured
	logger  *slog.Logger
}

func NewService(live SolutionLister, history repository.SolutionRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{live: live, history: history, logger: logger}
}

// ErrNoHistory is returned by HistoryXLSX when no database is configured.
var ErrNoHistory = errors.New("export: history database not configured")

type row struct {
	recorded string
	file     string
	status   string
	source   string
	index    int
	problem  entity.ProblemSolution
}

// SolutionsXLSX exports the in-memory solutions, one row per problem, in item order.
func (s *Service) SolutionsXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()
	var rows []row
	for _, is := range s.live.OrderedSolutions() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, p := range is.Solution.Problems {
			rows = append(rows, row{
				file:    is.Item.File.Name,
				status:  string(is.Solution.Status),
				source:  is.Solution.AISourceID,
				index:   i + 1,
				problem: p,
			})
		}
	}
	buf, err := render("Solutions", false, rows)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok", "kind", "live", "rows", len(rows), "elapsed_ms", time.Since(start).Milliseconds())
	return buf, nil
}

// HistoryXLSX exports recorded solutions, newest first. A nil runID exports every run.
func (s *Service) HistoryXLSX(ctx context.Context, runID *uuid.UUID, limit int) ([]byte, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	start := time.Now()
	recs, err := s.history.ListSolutions(ctx, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query solutions: %w", err)
	}
	var rows []row
	for _, rec := range recs {
		for i, p := range rec.Problems {
			rows = append(rows, row{
				recorded: rec.RecordedAt.Format(time.RFC3339),
				file:     rec.FileName,
				status:   string(rec.Status),
				source:   rec.AISourceID,
				index:    i + 1,
				problem:  p,
			})
		}
	}
	buf, err := render("History", true, rows)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok", "kind", "history", "records", len(recs), "rows", len(rows), "elapsed_ms", time.Since(start).Milliseconds())
	return buf, nil
}

func render(sheet string, withRecorded bool, rows []row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{"File", "Status", "Source", "#", "Problem", "Answer", "Explanation"}
	if withRecorded {
		headers = append([]string{"Recorded At"}, headers...)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheet, "A1", last, style)
	}

	for n, r := range rows {
		values := []any{r.file, r.status, r.source, r.index,
			truncate(r.problem.Problem, maxCellChars),
			truncate(r.problem.Answer, maxCellChars),
			truncate(r.problem.Explanation, maxCellChars),
		}
		if withRecorded {
			values = append([]any{r.recorded}, values...)
		}
		cell, _ := excelize.CoordinatesToCellName(1, n+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("xlsx row %d: %w", n+2, err)
		}
	}

	off := 0
	if withRecorded {
		_ = f.SetColWidth(sheet, "A", "A", 22)
		off = 1
	}
	col := func(i int) string { name, _ := excelize.ColumnNumberToName(i + off); return name }
	_ = f.SetColWidth(sheet, col(1), col(1), 28) // file
	_ = f.SetColWidth(sheet, col(2), col(3), 12)
	_ = f.SetColWidth(sheet, col(4), col(4), 5)
	_ = f.SetColWidth(sheet, col(5), col(5), 48)
	_ = f.SetColWidth(sheet, col(6), col(6), 32)
	_ = f.SetColWidth(sheet, col(7), col(7), 64)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
