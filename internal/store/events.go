package store

import (
	"time"

	"github.com/joseph-ayodele/homework-scanner/internal/entity"
)

// EventType names a store change.
type EventType string

const (
	EventItemAdded       EventType = "item.added"
	EventItemUpdated     EventType = "item.updated"
	EventItemRemoved     EventType = "item.removed"
	EventCleared         EventType = "store.cleared"
	EventSolutionUpdated EventType = "solution.updated"
	EventSolutionRemoved EventType = "solution.removed"
	EventSolutionDelta   EventType = "solution.delta"
	EventWorking         EventType = "store.working"
)

// Event is delivered to subscribers after the change is applied.
type Event struct {
	Type     EventType        `json:"type"`
	Item     *entity.FileItem `json:"item,omitempty"`
	Solution *entity.Solution `json:"solution,omitempty"`
	URL      string           `json:"url,omitempty"`
	Chunk    string           `json:"chunk,omitempty"`
	Working  bool             `json:"working,omitempty"`
	At       time.Time        `json:"at"`
}

type subscriber struct {
	ch      chan Event
	dropped int
}
