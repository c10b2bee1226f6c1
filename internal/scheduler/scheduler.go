package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"remindd/internal/domain"
	"remindd/internal/store"
)

// ReminderOffsets are the lead times before a task's due date at which a
// reminder fires.
var ReminderOffsets = []time.Duration{
	20 * time.Minute,
	15 * time.Minute,
	10 * time.Minute,
	5 * time.Minute,
	2 * time.Minute,
}

const kindComplete = "complete"

// Notifier is the slice of the dispatcher the scheduler needs.
type Notifier interface {
	SendTaskEvent(ctx context.Context, recipientIDs []string, taskID string, event domain.TaskEvent, title, body string, extra map[string]string) (domain.DeliveryResult, error)
}

type jobKey struct {
	taskID string
	kind   string // "reminder_<N>m" or "complete"
}

type job struct {
	key    jobKey
	fireAt time.Time
	timer  *time.Timer
}

// JobInfo describes one live timer, for introspection and tests.
type JobInfo struct {
	Kind   string
	FireAt time.Time
}

// Scheduler owns the in-memory timers that fire reminder and completion
// events for active tasks. The job set is a cache derived from task store
// state, never a source of truth: losing it only delays reminders until the
// next reconciliation pass. At most one live job exists per (task, kind).
type Scheduler struct {
	tasks    store.TaskStore
	notifier Notifier

	mu   sync.Mutex
	jobs map[jobKey]*job

	fireTimeout time.Duration
}

func New(tasks store.TaskStore, notifier Notifier) *Scheduler {
	return &Scheduler{
		tasks:       tasks,
		notifier:    notifier,
		jobs:        make(map[jobKey]*job),
		fireTimeout: 30 * time.Second,
	}
}

// ScheduleReminders replaces every job for the task with a freshly computed
// set: one reminder per offset still in the future (past-due offsets are
// skipped, never fired retroactively) and, when the due date is ahead, one
// completion job at exactly the due date. Pure in-memory bookkeeping; no
// notification is sent synchronously.
func (s *Scheduler) ScheduleReminders(task domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(task.ID)
	now := time.Now()

	if !task.Status.IsTerminal() {
		for _, off := range ReminderOffsets {
			fireAt := task.EndDate.Add(-off)
			if !fireAt.After(now) {
				continue
			}
			minutes := int(off.Minutes())
			s.armLocked(jobKey{task.ID, fmt.Sprintf("reminder_%dm", minutes)}, fireAt, func(j *job) {
				s.fireReminder(j, minutes)
			})
		}
	}

	if task.EndDate.After(now) {
		s.armLocked(jobKey{task.ID, kindComplete}, task.EndDate, s.fireCompletion)
	}
}

// CancelReminders drops every job for the task. Safe to call with zero
// matching jobs, any number of times.
func (s *Scheduler) CancelReminders(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(taskID)
}

// RescheduleAll is the reconciliation primitive: it discards every held job
// and rebuilds the set from the store's view of upcoming non-terminal tasks.
func (s *Scheduler) RescheduleAll(ctx context.Context) error {
	s.CancelAll()

	tasks, err := s.tasks.FindUpcoming(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("find upcoming tasks: %w", err)
	}
	for _, t := range tasks {
		s.ScheduleReminders(t)
	}
	return nil
}

// CancelAll stops and drops every job.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, j := range s.jobs {
		j.timer.Stop()
		delete(s.jobs, key)
	}
}

// Jobs returns the live jobs for a task, soonest first.
func (s *Scheduler) Jobs(taskID string) []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobInfo
	for key, j := range s.jobs {
		if key.taskID == taskID {
			out = append(out, JobInfo{Kind: key.kind, FireAt: j.fireAt})
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FireAt.Before(out[k].FireAt) })
	return out
}

// ScheduledTaskIDs returns every task id holding at least one live job.
func (s *Scheduler) ScheduledTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for key := range s.jobs {
		if !seen[key.taskID] {
			seen[key.taskID] = true
			ids = append(ids, key.taskID)
		}
	}
	sort.Strings(ids)
	return ids
}

// JobCount returns the number of live jobs across all tasks.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) cancelLocked(taskID string) {
	for key, j := range s.jobs {
		if key.taskID == taskID {
			j.timer.Stop()
			delete(s.jobs, key)
		}
	}
}

func (s *Scheduler) armLocked(key jobKey, fireAt time.Time, fire func(*job)) {
	j := &job{key: key, fireAt: fireAt}
	j.timer = time.AfterFunc(time.Until(fireAt), func() { fire(j) })
	s.jobs[key] = j
}

// release drops the job's map entry, but only if it is still the live job
// for its key; a job superseded by a later ScheduleReminders call must not
// remove its replacement.
func (s *Scheduler) release(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[j.key] != j {
		return false
	}
	delete(s.jobs, j.key)
	return true
}

func (s *Scheduler) fireReminder(j *job, minutes int) {
	if !s.release(j) {
		return // superseded or canceled while firing
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
	defer cancel()

	// Re-read the task; the snapshot that armed this timer may be stale.
	task, err := s.tasks.Get(ctx, j.key.taskID)
	if errors.Is(err, store.ErrNotFound) {
		return // deleted since scheduling
	}
	if err != nil {
		log.Error().Err(err).Str("task_id", j.key.taskID).Msg("reminder fire: task read failed")
		return
	}
	if task.Status.IsTerminal() {
		return
	}

	title := fmt.Sprintf("Task Due Soon: %s", task.Title)
	body := fmt.Sprintf("Task %q is due in %d minutes", task.Title, minutes)
	extra := map[string]string{"offset_minutes": fmt.Sprintf("%d", minutes)}
	if _, err := s.notifier.SendTaskEvent(ctx, []string{task.OwnerID}, task.ID, domain.EventDueSoon, title, body, extra); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Int("offset_minutes", minutes).Msg("due-soon notification failed")
	}
}

func (s *Scheduler) fireCompletion(j *job) {
	if !s.release(j) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
	defer cancel()

	task, err := s.tasks.Get(ctx, j.key.taskID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("task_id", j.key.taskID).Msg("completion fire: task read failed")
		return
	}
	if task.Status.IsTerminal() {
		return
	}

	fresh, err := s.tasks.SetStatus(ctx, task.ID, domain.StatusComplete)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("completion fire: status update failed")
		return
	}

	title := fmt.Sprintf("Task Completed: %s", fresh.Title)
	body := "Task has been automatically marked as complete"
	if _, err := s.notifier.SendTaskEvent(ctx, []string{fresh.OwnerID}, fresh.ID, domain.EventCompleted, title, body, nil); err != nil {
		log.Error().Err(err).Str("task_id", fresh.ID).Msg("completion notification failed")
	}
}
