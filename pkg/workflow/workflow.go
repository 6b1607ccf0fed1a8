// Package workflow tracks per-project backlog item status in memory, the
// state the reporting service reads to build snapshot payloads.
package workflow

import "sync"

// BacklogItem is one item's status plus its ordered status history.
type BacklogItem struct {
	BacklogItemID string
	Status        string
	History       []string
}

// Transition sets status and appends it to the history.
func (b *BacklogItem) Transition(status string) {
	b.Status = status
	b.History = append(b.History, status)
}

// ProjectState holds every backlog item seen so far for one project.
type ProjectState struct {
	ProjectID string

	mu      sync.Mutex
	backlog map[string]*BacklogItem
}

// NewProjectState constructs empty state for projectID.
func NewProjectState(projectID string) *ProjectState {
	return &ProjectState{ProjectID: projectID, backlog: make(map[string]*BacklogItem)}
}

// GetOrCreate returns the existing item for backlogItemID, creating an
// empty one (no status, no history) on first reference.
func (p *ProjectState) GetOrCreate(backlogItemID string) *BacklogItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.backlog[backlogItemID]
	if !ok {
		item = &BacklogItem{BacklogItemID: backlogItemID}
		p.backlog[backlogItemID] = item
	}
	return item
}

// Snapshot returns a point-in-time copy of every tracked item, keyed by
// backlog_item_id, suitable for building a snapshot envelope payload.
func (p *ProjectState) Snapshot() map[string]BacklogItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]BacklogItem, len(p.backlog))
	for id, item := range p.backlog {
		history := make([]string, len(item.History))
		copy(history, item.History)
		out[id] = BacklogItem{BacklogItemID: item.BacklogItemID, Status: item.Status, History: history}
	}
	return out
}
