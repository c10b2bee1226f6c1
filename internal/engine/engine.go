package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"remindd/internal/domain"
	"remindd/internal/notify"
	"remindd/internal/scheduler"
	"remindd/internal/store"
)

// Engine ties the reminder scheduler, the dispatcher and the reconciliation
// sweep together and exposes the lifecycle hooks the task CRUD layer calls.
type Engine struct {
	tasks      store.TaskStore
	sched      *scheduler.Scheduler
	dispatcher *notify.Dispatcher

	interval time.Duration
	cron     *cron.Cron
	entry    cron.EntryID
}

func New(tasks store.TaskStore, sched *scheduler.Scheduler, dispatcher *notify.Dispatcher, sweepInterval time.Duration) *Engine {
	return &Engine{
		tasks:      tasks,
		sched:      sched,
		dispatcher: dispatcher,
		interval:   sweepInterval,
		cron:       cron.New(),
	}
}

// Start runs the sweep once to rebuild timers from the store, then arms the
// periodic sweep.
func (e *Engine) Start(ctx context.Context) error {
	e.Sweep(ctx)

	id, err := e.cron.AddFunc(fmt.Sprintf("@every %s", e.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		e.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("arm sweep: %w", err)
	}
	e.entry = id
	e.cron.Start()

	log.Info().Dur("interval", e.interval).Int("jobs", e.sched.JobCount()).Msg("reminder engine started")
	return nil
}

// Stop tears the periodic sweep down and drops every live timer. Blocks
// until a sweep already in flight finishes.
func (e *Engine) Stop() {
	<-e.cron.Stop().Done()
	e.sched.CancelAll()
	log.Info().Msg("reminder engine stopped")
}

// Sweep closes the gap between durable task state and volatile timers:
// overdue non-terminal tasks are bulk-corrected to complete first, so the
// rebuild that follows never re-arms reminders for tasks already past due.
// The bulk correction sends no notifications. Each step's failure is logged
// and contained; a bad tick self-heals on the next one.
func (e *Engine) Sweep(ctx context.Context) {
	n, err := e.tasks.CompleteOverdue(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("sweep: overdue correction failed")
	} else if n > 0 {
		log.Info().Int64("tasks", n).Msg("sweep: overdue tasks completed")
	}

	if err := e.sched.RescheduleAll(ctx); err != nil {
		log.Error().Err(err).Msg("sweep: reschedule failed")
		return
	}
	log.Debug().Int("jobs", e.sched.JobCount()).
		Int("tasks", len(e.sched.ScheduledTaskIDs())).Msg("sweep: timers rebuilt")
}

// OnTaskCreated installs the task's timers and synchronously notifies the
// owner. The delivery attempt is immediate, so its failure is the caller's
// to handle.
func (e *Engine) OnTaskCreated(ctx context.Context, task domain.Task) (domain.DeliveryResult, error) {
	e.sched.ScheduleReminders(task)
	return e.sendLifecycleEvent(ctx, task, domain.EventCreated)
}

// OnTaskUpdated recomputes the task's timers from scratch and synchronously
// notifies the owner. Always a full cancel+recompute, never an incremental
// patch.
func (e *Engine) OnTaskUpdated(ctx context.Context, task domain.Task) (domain.DeliveryResult, error) {
	e.sched.ScheduleReminders(task)
	return e.sendLifecycleEvent(ctx, task, domain.EventUpdated)
}

// OnTaskDeleted cancels the task's timers before the row disappears. The
// deleted event is sent detached: the caller proceeds immediately and the
// outcome is only logged.
func (e *Engine) OnTaskDeleted(taskID, ownerID string) {
	e.sched.CancelReminders(taskID)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		title := fmt.Sprintf("Task %s", domain.EventDeleted)
		body := fmt.Sprintf("Task (%s) triggered an event: %s", taskID, domain.EventDeleted)
		if _, err := e.dispatcher.SendTaskEvent(ctx, []string{ownerID}, taskID, domain.EventDeleted, title, body, nil); err != nil {
			log.Error().Err(err).Str("task_id", taskID).Msg("deleted notification failed")
		}
	}()
}

func (e *Engine) sendLifecycleEvent(ctx context.Context, task domain.Task, event domain.TaskEvent) (domain.DeliveryResult, error) {
	title := fmt.Sprintf("Task %s", event)
	body := fmt.Sprintf("Task (%s) triggered an event: %s", task.ID, event)
	return e.dispatcher.SendTaskEvent(ctx, []string{task.OwnerID}, task.ID, event, title, body, nil)
}
