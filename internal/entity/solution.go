package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/constants"
)

// ProblemSolution is one extracted problem with its answer and reasoning.
type ProblemSolution struct {
	Problem     string `json:"problem"`
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`
}

// Solution is the AI result for one item, keyed by the item's URL.
type Solution struct {
	URL            string                   `json:"url"`
	Status         constants.SolutionStatus `json:"status"`
	Problems       []ProblemSolution        `json:"problems"`
	StreamedOutput string                   `json:"streamed_output,omitempty"`
	AISourceID     string                   `json:"ai_source_id,omitempty"` // empty on failure
	UpdatedAt      time.Time                `json:"updated_at"`
}

// Clone copies the problems slice.
func (s Solution) Clone() Solution {
	if s.Problems != nil {
		s.Problems = append([]ProblemSolution(nil), s.Problems...)
	}
	return s
}

// ItemSolution pairs an item with its solution, in item order.
type ItemSolution struct {
	Item     FileItem `json:"item"`
	Solution Solution `json:"solution"`
}

// ScanRun is the persisted summary of one scan run.
type ScanRun struct {
	ID         uuid.UUID  `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Items      int        `json:"items"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Error      *string    `json:"error,omitempty"`
}
