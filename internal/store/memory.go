package store

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
)

// Memory is the mutex-owned Store implementation.
type Memory struct {
	mu        sync.RWMutex
	items     []entity.FileItem
	solutions map[string]entity.Solution
	working   bool

	subsMu sync.Mutex
	subs   map[int]*subscriber
	nextID int

	previews Previews
	now      func() time.Time
	logger   *slog.Logger
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store. previews nil means in-memory handles.
func NewMemory(previews Previews, logger *slog.Logger) *Memory {
	if previews == nil {
		previews = NewMemoryPreviews()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		solutions: make(map[string]entity.Solution),
		subs:      make(map[int]*subscriber),
		previews:  previews,
		now:       time.Now,
		logger:    logger,
	}
}

func (m *Memory) indexOf(id uuid.UUID) int {
	return slices.IndexFunc(m.items, func(it entity.FileItem) bool { return it.ID == id })
}

func (m *Memory) AddItems(items ...entity.FileItem) ([]entity.FileItem, error) {
	added := make([]entity.FileItem, 0, len(items))
	for _, it := range items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		if it.Status == "" {
			it.Status = constants.ItemPending
		}
		if it.Source == "" {
			it.Source = constants.SourceUpload
		}
		if it.AddedAt.IsZero() {
			it.AddedAt = m.now()
		}
		it.File.Size = len(it.File.Data)
		url, err := m.previews.Create(it)
		if err != nil {
			m.releaseAll(added)
			return nil, fmt.Errorf("create preview for %s: %w", it.File.Name, err)
		}
		it.URL = url
		added = append(added, it)
	}

	m.mu.Lock()
	m.items = append(m.items, added...)
	m.mu.Unlock()

	for i := range added {
		it := added[i]
		m.publish(Event{Type: EventItemAdded, Item: &it})
	}
	m.logger.Debug("store.items.added", "count", len(added))
	return added, nil
}

func (m *Memory) releaseAll(items []entity.FileItem) {
	for _, it := range items {
		if err := m.previews.Release(it.URL); err != nil {
			m.logger.Warn("store.preview.release_failed", "url", it.URL, "error", err)
		}
	}
}

func (m *Memory) RemoveItem(id uuid.UUID) error {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	it := m.items[i]
	m.items = slices.Delete(m.items, i, i+1)
	delete(m.solutions, it.URL)
	m.mu.Unlock()

	m.releaseAll([]entity.FileItem{it})
	m.publish(Event{Type: EventItemRemoved, Item: &it, URL: it.URL})
	return nil
}

func (m *Memory) ClearAll() error {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.solutions = make(map[string]entity.Solution)
	m.mu.Unlock()

	var errs []error
	for _, it := range items {
		if err := m.previews.Release(it.URL); err != nil {
			errs = append(errs, err)
		}
	}
	m.publish(Event{Type: EventCleared})
	m.logger.Debug("store.cleared", "items", len(items))
	return errors.Join(errs...)
}

func (m *Memory) UpdateItemStatus(id uuid.UUID, status constants.ItemStatus) error {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	it := m.items[i]
	it.Status = status
	m.items[i] = it
	m.mu.Unlock()

	m.publish(Event{Type: EventItemUpdated, Item: &it})
	return nil
}

// SetItemPages records the page count found while an item was rasterizing.
func (m *Memory) SetItemPages(id uuid.UUID, pages int) error {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	it := m.items[i]
	it.Pages = pages
	m.items[i] = it
	m.mu.Unlock()

	m.publish(Event{Type: EventItemUpdated, Item: &it})
	return nil
}

func (m *Memory) Items() []entity.FileItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.items)
}

func (m *Memory) Item(id uuid.UUID) (entity.FileItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(id); i >= 0 {
		return m.items[i], true
	}
	return entity.FileItem{}, false
}

func (m *Memory) PutSolution(sol entity.Solution) {
	sol = sol.Clone()
	if sol.Problems == nil {
		sol.Problems = []entity.ProblemSolution{}
	}
	sol.UpdatedAt = m.now()

	m.mu.Lock()
	m.solutions[sol.URL] = sol
	m.mu.Unlock()

	out := sol.Clone()
	m.publish(Event{Type: EventSolutionUpdated, Solution: &out, URL: sol.URL})
}

func (m *Memory) RemoveSolutionsByURLs(urls ...string) {
	removed := make([]string, 0, len(urls))
	m.mu.Lock()
	for _, u := range urls {
		if _, ok := m.solutions[u]; ok {
			delete(m.solutions, u)
			removed = append(removed, u)
		}
	}
	m.mu.Unlock()

	for _, u := range removed {
		m.publish(Event{Type: EventSolutionRemoved, URL: u})
	}
}

func (m *Memory) AppendStreamedOutput(url, chunk string) {
	if chunk == "" {
		return
	}
	m.mu.Lock()
	sol, ok := m.solutions[url]
	if !ok {
		m.mu.Unlock()
		return
	}
	sol.StreamedOutput += chunk
	m.solutions[url] = sol
	m.mu.Unlock()

	m.publish(Event{Type: EventSolutionDelta, URL: url, Chunk: chunk})
}

func (m *Memory) ClearStreamedOutput(url string) {
	m.mu.Lock()
	sol, ok := m.solutions[url]
	if !ok || sol.StreamedOutput == "" {
		m.mu.Unlock()
		return
	}
	sol.StreamedOutput = ""
	m.solutions[url] = sol
	m.mu.Unlock()

	out := sol.Clone()
	m.publish(Event{Type: EventSolutionUpdated, Solution: &out, URL: url})
}

func (m *Memory) UpdateProblem(url string, index int, answer, explanation string) error {
	m.mu.Lock()
	sol, ok := m.solutions[url]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSolutionNotFound, url)
	}
	if index < 0 || index >= len(sol.Problems) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrProblemIndex, index, len(sol.Problems))
	}
	sol = sol.Clone()
	sol.Problems[index].Answer = answer
	sol.Problems[index].Explanation = explanation
	sol.UpdatedAt = m.now()
	m.solutions[url] = sol
	m.mu.Unlock()

	out := sol.Clone()
	m.publish(Event{Type: EventSolutionUpdated, Solution: &out, URL: url})
	return nil
}

// Solutions returns solutions in item order, followed by any without an item.
func (m *Memory) Solutions() []entity.Solution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.Solution, 0, len(m.solutions))
	seen := make(map[string]struct{}, len(m.solutions))
	for _, it := range m.items {
		if sol, ok := m.solutions[it.URL]; ok {
			out = append(out, sol.Clone())
			seen[it.URL] = struct{}{}
		}
	}
	rest := make([]string, 0)
	for u := range m.solutions {
		if _, ok := seen[u]; !ok {
			rest = append(rest, u)
		}
	}
	slices.Sort(rest)
	for _, u := range rest {
		out = append(out, m.solutions[u].Clone())
	}
	return out
}

func (m *Memory) Solution(url string) (entity.Solution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sol, ok := m.solutions[url]
	return sol.Clone(), ok
}

func (m *Memory) OrderedSolutions() []entity.ItemSolution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.ItemSolution, 0, len(m.solutions))
	for _, it := range m.items {
		if sol, ok := m.solutions[it.URL]; ok {
			out = append(out, entity.ItemSolution{Item: it, Solution: sol.Clone()})
		}
	}
	return out
}

func (m *Memory) SetWorking(working bool) {
	m.mu.Lock()
	m.working = working
	m.mu.Unlock()
	m.publish(Event{Type: EventWorking, Working: working})
}

func (m *Memory) Working() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.working
}

func (m *Memory) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.subsMu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	return len(m.subs)
}

// publish never blocks. Events are dropped for subscribers whose buffer is full.
func (m *Memory) publish(ev Event) {
	ev.At = m.now()
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for id, sub := range m.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				m.logger.Warn("store.subscriber.dropped", "subscriber", id, "event", ev.Type, "dropped", sub.dropped)
			}
		}
	}
}
