package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/domain"
	"remindd/internal/store"
)

// fakeTaskStore implements store.TaskStore over an in-memory map.
type fakeTaskStore struct {
	mu      sync.Mutex
	tasks   map[string]domain.Task
	findErr error
}

func newFakeTaskStore(tasks ...domain.Task) *fakeTaskStore {
	s := &fakeTaskStore{tasks: make(map[string]domain.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *fakeTaskStore) Create(ctx context.Context, t domain.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return t.ID, nil
}

func (s *fakeTaskStore) Get(ctx context.Context, id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, store.ErrNotFound
	}
	return t, nil
}

func (s *fakeTaskStore) Update(ctx context.Context, t domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeTaskStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *fakeTaskStore) SetStatus(ctx context.Context, id string, status domain.TaskStatus) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, store.ErrNotFound
	}
	t.Status = status
	s.tasks[id] = t
	return t, nil
}

func (s *fakeTaskStore) FindUpcoming(ctx context.Context, after time.Time) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []domain.Task
	for _, t := range s.tasks {
		if t.EndDate.After(after) && !t.Status.IsTerminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTaskStore) CompleteOverdue(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tasks {
		if t.EndDate.Before(before) && !t.Status.IsTerminal() {
			t.Status = domain.StatusComplete
			s.tasks[id] = t
			n++
		}
	}
	return n, nil
}

func (s *fakeTaskStore) status(id string) domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].Status
}

type sentEvent struct {
	recipients []string
	taskID     string
	event      domain.TaskEvent
	extra      map[string]string
}

// fakeNotifier records every task event it is asked to send.
type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *fakeNotifier) SendTaskEvent(ctx context.Context, recipientIDs []string, taskID string, event domain.TaskEvent, title, body string, extra map[string]string) (domain.DeliveryResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{recipients: recipientIDs, taskID: taskID, event: event, extra: extra})
	return domain.DeliveryResult{Outcome: domain.Delivered, Recipients: len(recipientIDs)}, nil
}

func (n *fakeNotifier) sent() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.events...)
}

func newTask(id string, status domain.TaskStatus, due time.Time) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     "task " + id,
		Status:    status,
		StartDate: due.Add(-time.Hour),
		EndDate:   due,
		OwnerID:   "user-1",
	}
}

func TestScheduleRemindersFullHorizon(t *testing.T) {
	ts := newFakeTaskStore()
	s := New(ts, &fakeNotifier{})
	defer s.CancelAll()

	task := newTask("t1", domain.StatusTodo, time.Now().Add(30*time.Minute))
	s.ScheduleReminders(task)

	jobs := s.Jobs("t1")
	require.Len(t, jobs, 6) // five reminder offsets plus the completion job
	assert.Equal(t, "complete", jobs[len(jobs)-1].Kind)
	assert.WithinDuration(t, task.EndDate, jobs[len(jobs)-1].FireAt, time.Second)
}

func TestScheduleRemindersSkipsPastOffsets(t *testing.T) {
	ts := newFakeTaskStore()
	s := New(ts, &fakeNotifier{})
	defer s.CancelAll()

	// Due in 3 minutes: only the 2-minute offset is still ahead.
	s.ScheduleReminders(newTask("t1", domain.StatusTodo, time.Now().Add(3*time.Minute)))
	jobs := s.Jobs("t1")
	require.Len(t, jobs, 2)
	assert.Equal(t, "reminder_2m", jobs[0].Kind)
	assert.Equal(t, "complete", jobs[1].Kind)

	// Due in 1 minute: every offset is already past, only completion remains.
	s.ScheduleReminders(newTask("t2", domain.StatusTodo, time.Now().Add(time.Minute)))
	jobs = s.Jobs("t2")
	require.Len(t, jobs, 1)
	assert.Equal(t, "complete", jobs[0].Kind)
}

func TestScheduleRemindersTerminalTask(t *testing.T) {
	ts := newFakeTaskStore()
	s := New(ts, &fakeNotifier{})
	defer s.CancelAll()

	s.ScheduleReminders(newTask("t1", domain.StatusDone, time.Now().Add(30*time.Minute)))

	jobs := s.Jobs("t1")
	require.Len(t, jobs, 1)
	assert.Equal(t, "complete", jobs[0].Kind)
}

func TestScheduleRemindersPastDueTask(t *testing.T) {
	s := New(newFakeTaskStore(), &fakeNotifier{})
	defer s.CancelAll()

	s.ScheduleReminders(newTask("t1", domain.StatusTodo, time.Now().Add(-time.Minute)))
	assert.Empty(t, s.Jobs("t1"))
}

func TestCancelRemindersIdempotent(t *testing.T) {
	s := New(newFakeTaskStore(), &fakeNotifier{})

	s.CancelReminders("missing")
	s.CancelReminders("missing")
	assert.Zero(t, s.JobCount())

	s.ScheduleReminders(newTask("t1", domain.StatusTodo, time.Now().Add(30*time.Minute)))
	s.CancelReminders("t1")
	s.CancelReminders("t1")
	assert.Zero(t, s.JobCount())
}

func TestRescheduleSupersedesEarlierJobs(t *testing.T) {
	due := time.Now().Add(60 * time.Millisecond)
	task := newTask("t1", domain.StatusTodo, due)
	ts := newFakeTaskStore(task)
	n := &fakeNotifier{}
	s := New(ts, n)
	defer s.CancelAll()

	s.ScheduleReminders(task)

	// Second schedule pushes the due date out; the first completion timer
	// must never fire.
	task.EndDate = time.Now().Add(10 * time.Second)
	s.ScheduleReminders(task)
	require.NoError(t, ts.Update(context.Background(), task))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, n.sent())
	assert.Equal(t, domain.StatusTodo, ts.status("t1"))

	jobs := s.Jobs("t1")
	require.NotEmpty(t, jobs)
	for _, j := range jobs {
		assert.Greater(t, time.Until(j.FireAt), 5*time.Second)
	}
}

func TestCompletionFireTransitionsAndNotifies(t *testing.T) {
	task := newTask("t1", domain.StatusTodo, time.Now().Add(50*time.Millisecond))
	ts := newFakeTaskStore(task)
	n := &fakeNotifier{}
	s := New(ts, n)
	defer s.CancelAll()

	s.ScheduleReminders(task)

	require.Eventually(t, func() bool {
		return ts.status("t1") == domain.StatusComplete
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return len(n.sent()) == 1 }, time.Second, 10*time.Millisecond)
	ev := n.sent()[0]
	assert.Equal(t, domain.EventCompleted, ev.event)
	assert.Equal(t, []string{"user-1"}, ev.recipients)
	assert.Equal(t, "t1", ev.taskID)

	assert.Empty(t, s.Jobs("t1"))
}

func TestFireIsNoOpWhenTaskTurnsTerminal(t *testing.T) {
	task := newTask("t1", domain.StatusTodo, time.Now().Add(50*time.Millisecond))
	ts := newFakeTaskStore(task)
	n := &fakeNotifier{}
	s := New(ts, n)
	defer s.CancelAll()

	s.ScheduleReminders(task)

	// User finishes the task before the timer fires.
	_, err := ts.SetStatus(context.Background(), "t1", domain.StatusDone)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, n.sent())
	assert.Equal(t, domain.StatusDone, ts.status("t1"))
}

func TestFireIsNoOpWhenTaskDeleted(t *testing.T) {
	task := newTask("t1", domain.StatusTodo, time.Now().Add(50*time.Millisecond))
	ts := newFakeTaskStore(task)
	n := &fakeNotifier{}
	s := New(ts, n)
	defer s.CancelAll()

	s.ScheduleReminders(task)
	require.NoError(t, ts.Delete(context.Background(), "t1"))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, n.sent())
}

func TestRescheduleAllMatchesStore(t *testing.T) {
	a := newTask("a", domain.StatusTodo, time.Now().Add(time.Hour))
	b := newTask("b", domain.StatusInProgress, time.Now().Add(2*time.Hour))
	done := newTask("done", domain.StatusDone, time.Now().Add(time.Hour))
	past := newTask("past", domain.StatusTodo, time.Now().Add(-time.Hour))
	ts := newFakeTaskStore(a, b, done, past)
	s := New(ts, &fakeNotifier{})
	defer s.CancelAll()

	// A leftover job for a task the store no longer knows about.
	s.ScheduleReminders(newTask("ghost", domain.StatusTodo, time.Now().Add(time.Hour)))

	require.NoError(t, s.RescheduleAll(context.Background()))
	assert.Equal(t, []string{"a", "b"}, s.ScheduledTaskIDs())
}

func TestRescheduleAllStoreError(t *testing.T) {
	ts := newFakeTaskStore(newTask("a", domain.StatusTodo, time.Now().Add(time.Hour)))
	s := New(ts, &fakeNotifier{})
	defer s.CancelAll()

	s.ScheduleReminders(newTask("a", domain.StatusTodo, time.Now().Add(time.Hour)))
	ts.findErr = context.DeadlineExceeded

	err := s.RescheduleAll(context.Background())
	require.Error(t, err)
	// Jobs were already dropped; the next sweep rebuilds them.
	assert.Zero(t, s.JobCount())
}

func TestReminderFireSendsDueSoonWithOffset(t *testing.T) {
	// Shrink one offset so a reminder actually fires inside the test.
	orig := ReminderOffsets
	ReminderOffsets = []time.Duration{50 * time.Millisecond}
	defer func() { ReminderOffsets = orig }()

	task := newTask("t1", domain.StatusTodo, time.Now().Add(100*time.Millisecond))
	ts := newFakeTaskStore(task)
	n := &fakeNotifier{}
	s := New(ts, n)
	defer s.CancelAll()

	s.ScheduleReminders(task)

	require.Eventually(t, func() bool {
		for _, ev := range n.sent() {
			if ev.event == domain.EventDueSoon {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	for _, ev := range n.sent() {
		if ev.event == domain.EventDueSoon {
			assert.Equal(t, "0", ev.extra["offset_minutes"])
			assert.Equal(t, []string{"user-1"}, ev.recipients)
		}
	}
}
