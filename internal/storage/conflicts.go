package storage

import (
	"context"
	"sync"

	"github.com/roach88/docstore/internal/document"
)

// ConflictInput is the divergent state a resolver decides between.
type ConflictInput struct {
	NewDocumentState   document.Data `json:"newDocumentState"`
	RealMasterState    document.Data `json:"realMasterState"`
	AssumedMasterState document.Data `json:"assumedMasterState,omitempty"`
}

// ConflictResolutionTask asks an external resolver to settle a conflict
// produced by multi-master replication.
type ConflictResolutionTask struct {
	ID      string        `json:"id"`
	Context string        `json:"context"`
	Input   ConflictInput `json:"input"`
}

// ConflictOutput is a resolver's decision.
type ConflictOutput struct {
	// IsEqual means the states do not actually conflict.
	IsEqual bool `json:"isEqual"`
	// Document is the resolved state when IsEqual is false.
	Document document.Data `json:"documentData,omitempty"`
}

// ConflictResolutionSolution answers the task with the same ID.
type ConflictResolutionSolution struct {
	ID     string         `json:"id"`
	Output ConflictOutput `json:"output"`
}

// ConflictChannel is the exchange point between whoever detects conflicts
// and whoever resolves them. It applies no resolution policy of its own.
//
// A producer calls Submit and blocks until a solution with the task's ID
// is resolved. Resolvers read tasks from Tasks and answer with Resolve.
// Solutions nobody waits for are dropped.
type ConflictChannel struct {
	tasks *Subject[ConflictResolutionTask]
	ids   IDGenerator

	mu      sync.Mutex
	waiting map[string]chan ConflictOutput
}

// NewConflictChannel creates an open channel.
func NewConflictChannel(ids IDGenerator) *ConflictChannel {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &ConflictChannel{
		tasks:   NewSubject[ConflictResolutionTask](),
		ids:     ids,
		waiting: make(map[string]chan ConflictOutput),
	}
}

// Tasks subscribes to submitted tasks.
func (c *ConflictChannel) Tasks() *Subscription[ConflictResolutionTask] {
	return c.tasks.Subscribe()
}

// Submit publishes a task and waits for its solution. An empty task ID is
// replaced with a generated one.
func (c *ConflictChannel) Submit(ctx context.Context, task ConflictResolutionTask) (ConflictOutput, error) {
	if task.ID == "" {
		task.ID = c.ids.NewID()
	}
	wait := make(chan ConflictOutput, 1)

	c.mu.Lock()
	c.waiting[task.ID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiting, task.ID)
		c.mu.Unlock()
	}()

	if !c.tasks.Publish(task) {
		return ConflictOutput{}, NewError(ErrCodeInstanceClosed, "conflict channel is closed", nil)
	}

	select {
	case out := <-wait:
		return out, nil
	case <-ctx.Done():
		return ConflictOutput{}, ctx.Err()
	}
}

// Resolve hands a solution to the producer waiting on its task. It reports
// whether anyone was waiting.
func (c *ConflictChannel) Resolve(solution ConflictResolutionSolution) bool {
	c.mu.Lock()
	wait, ok := c.waiting[solution.ID]
	if ok {
		delete(c.waiting, solution.ID)
	}
	c.mu.Unlock()

	if ok {
		wait <- solution.Output
	}
	return ok
}

// Close completes the task stream. Pending Submit calls keep waiting for
// their context.
func (c *ConflictChannel) Close() {
	c.tasks.Close()
}
