// Package store holds the shared, observable scan state: file items, their
// solutions and the partial output streamed while a solution is processing.
package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
)

var (
	ErrItemNotFound     = errors.New("store: item not found")
	ErrSolutionNotFound = errors.New("store: solution not found")
	ErrProblemIndex     = errors.New("store: problem index out of range")
)

// Store is the single mutable resource touched by concurrent scan workers.
// Every mutation replaces a whole record by key; none merges fields across calls.
type Store interface {
	// AddItems assigns ids, preview URLs and timestamps, then appends in order.
	AddItems(items ...entity.FileItem) ([]entity.FileItem, error)
	// RemoveItem drops the item, its solution and its preview handle.
	RemoveItem(id uuid.UUID) error
	// ClearAll drops every item and solution and releases all preview handles.
	ClearAll() error
	UpdateItemStatus(id uuid.UUID, status constants.ItemStatus) error
	SetItemPages(id uuid.UUID, pages int) error
	Items() []entity.FileItem
	Item(id uuid.UUID) (entity.FileItem, bool)

	// PutSolution inserts or replaces the solution keyed by sol.URL.
	PutSolution(sol entity.Solution)
	RemoveSolutionsByURLs(urls ...string)
	AppendStreamedOutput(url, chunk string)
	ClearStreamedOutput(url string)
	// UpdateProblem replaces the answer and explanation of one problem.
	UpdateProblem(url string, index int, answer, explanation string) error
	Solutions() []entity.Solution
	Solution(url string) (entity.Solution, bool)
	// OrderedSolutions pairs solutions with their items, in item order.
	OrderedSolutions() []entity.ItemSolution

	SetWorking(working bool)
	Working() bool

	// Subscribe returns a buffered event channel and a function that closes it.
	Subscribe(buffer int) (<-chan Event, func())
}
