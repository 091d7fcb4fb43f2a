package repository

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"workflowup/backend/pkg/models"
)

// MemoryStore keeps everything in process memory. Each transaction works on
// a copy of the data that replaces the original only when fn succeeds.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

type memoryData struct {
	users          map[string]models.User
	workflows      map[int64]models.Workflow
	activities     map[int64][]models.Activity
	tests          map[int64][]models.TestCase
	nextWorkflowID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{
		users:          make(map[string]models.User),
		workflows:      make(map[int64]models.Workflow),
		activities:     make(map[int64][]models.Activity),
		tests:          make(map[int64][]models.TestCase),
		nextWorkflowID: 1,
	}}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// InTx runs fn with exclusive access to a copy of the store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, &memoryTx{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		users:          make(map[string]models.User, len(d.users)),
		workflows:      make(map[int64]models.Workflow, len(d.workflows)),
		activities:     make(map[int64][]models.Activity, len(d.activities)),
		tests:          make(map[int64][]models.TestCase, len(d.tests)),
		nextWorkflowID: d.nextWorkflowID,
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.workflows {
		c.workflows[k] = v
	}
	for k, v := range d.activities {
		c.activities[k] = slices.Clone(v)
	}
	for k, v := range d.tests {
		c.tests[k] = slices.Clone(v)
	}
	return c
}

type memoryTx struct {
	d *memoryData
}

func (t *memoryTx) GetUser(_ context.Context, username string) (models.User, error) {
	u, ok := t.d.users[username]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (t *memoryTx) UpsertUser(_ context.Context, u models.User) error {
	for name, existing := range t.d.users {
		if name != u.Username && strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	t.d.users[u.Username] = u
	return nil
}

func (t *memoryTx) InsertWorkflow(_ context.Context, w models.Workflow) (models.Workflow, error) {
	if _, ok := t.d.users[w.Manager]; !ok {
		return models.Workflow{}, ErrNotFound
	}
	w.ID = t.d.nextWorkflowID
	t.d.nextWorkflowID++
	t.d.workflows[w.ID] = w
	return w, nil
}

func (t *memoryTx) GetWorkflow(_ context.Context, id int64, _ bool) (models.Workflow, error) {
	w, ok := t.d.workflows[id]
	if !ok {
		return models.Workflow{}, ErrNotFound
	}
	return w, nil
}

func (t *memoryTx) UpdateWorkflow(_ context.Context, w models.Workflow) error {
	current, ok := t.d.workflows[w.ID]
	if !ok {
		return ErrNotFound
	}
	current.BaselineLabel = w.BaselineLabel
	current.RMCode = w.RMCode
	current.ReleaseTag = w.ReleaseTag
	current.QATarget = w.QATarget
	current.PAPTarget = w.PAPTarget
	t.d.workflows[w.ID] = current
	return nil
}

func (t *memoryTx) ListWorkflows(_ context.Context, filter models.WorkflowFilter) ([]models.Workflow, error) {
	var out []models.Workflow
	search := strings.ToLower(filter.Search)
	for _, w := range t.d.workflows {
		switch {
		case filter.Manager != "" && w.Manager != filter.Manager,
			filter.ProjectCode != "" && w.ProjectCode != filter.ProjectCode,
			filter.Component != "" && w.Component != filter.Component,
			search != "" && !strings.Contains(strings.ToLower(w.ProjectName), search),
			filter.IDs != nil && !slices.Contains(filter.IDs, w.ID):
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memoryTx) ListActivities(_ context.Context, workflowID int64) ([]models.Activity, error) {
	return slices.Clone(t.d.activities[workflowID]), nil
}

func (t *memoryTx) ActivitiesFor(_ context.Context, workflowIDs []int64) (map[int64][]models.Activity, error) {
	out := make(map[int64][]models.Activity, len(workflowIDs))
	for _, id := range workflowIDs {
		if log := t.d.activities[id]; len(log) > 0 {
			out[id] = slices.Clone(log)
		}
	}
	return out, nil
}

func (t *memoryTx) AppendActivity(_ context.Context, a models.Activity) error {
	if _, ok := t.d.workflows[a.WorkflowID]; !ok {
		return ErrNotFound
	}
	for _, existing := range t.d.activities[a.WorkflowID] {
		if existing.ActivityID == a.ActivityID {
			return ErrConflict
		}
	}
	t.d.activities[a.WorkflowID] = append(t.d.activities[a.WorkflowID], a)
	return nil
}

func (t *memoryTx) ListTestCases(_ context.Context, workflowID int64) ([]models.TestCase, error) {
	return slices.Clone(t.d.tests[workflowID]), nil
}

func (t *memoryTx) InsertTestCase(_ context.Context, tc models.TestCase) error {
	if _, ok := t.d.workflows[tc.WorkflowID]; !ok {
		return ErrNotFound
	}
	for _, existing := range t.d.tests[tc.WorkflowID] {
		if existing.TestID == tc.TestID {
			return ErrConflict
		}
	}
	t.d.tests[tc.WorkflowID] = append(t.d.tests[tc.WorkflowID], tc)
	return nil
}

func (t *memoryTx) UpdateTestCase(_ context.Context, tc models.TestCase) error {
	plan := t.d.tests[tc.WorkflowID]
	for i := range plan {
		if plan[i].TestID == tc.TestID {
			plan[i].Progress = tc.Progress
			plan[i].Result = tc.Result
			return nil
		}
	}
	return ErrNotFound
}
