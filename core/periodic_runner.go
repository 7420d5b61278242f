package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"
)

type PeriodicTask struct {
	Name string
	// Schedule is a cron spec with a seconds field or an @every descriptor.
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type PeriodicSchedules struct {
	Dispatch     string
	ReleaseStale string
	Renew        string
}

func DefaultPeriodicSchedules() PeriodicSchedules {
	return PeriodicSchedules{
		Dispatch:     "@every 30s",
		ReleaseStale: "@every 5m",
		Renew:        "@every 1h",
	}
}

// OutreachTasks returns the periodic tasks for the given workers. A nil
// dispatcher or renewer skips its tasks.
func OutreachTasks(dispatcher *ActionDispatcher, renewer *SubscriptionRenewer, schedules PeriodicSchedules) []PeriodicTask {
	defaults := DefaultPeriodicSchedules()
	if strings.TrimSpace(schedules.Dispatch) == "" {
		schedules.Dispatch = defaults.Dispatch
	}
	if strings.TrimSpace(schedules.ReleaseStale) == "" {
		schedules.ReleaseStale = defaults.ReleaseStale
	}
	if strings.TrimSpace(schedules.Renew) == "" {
		schedules.Renew = defaults.Renew
	}

	tasks := []PeriodicTask{}
	if dispatcher != nil {
		tasks = append(tasks,
			PeriodicTask{
				Name:     JobIDDispatchActions,
				Schedule: schedules.Dispatch,
				Timeout:  dispatcher.config.CallTimeout * 2,
				Run: func(ctx context.Context) error {
					_, err := dispatcher.DispatchDue(ctx, 0)
					return err
				},
			},
			PeriodicTask{
				Name:     JobIDReleaseStaleActions,
				Schedule: schedules.ReleaseStale,
				Timeout:  time.Minute,
				Run: func(ctx context.Context) error {
					_, err := dispatcher.ReleaseStale(ctx)
					return err
				},
			},
		)
	}
	if renewer != nil {
		tasks = append(tasks, PeriodicTask{
			Name:     JobIDRenewSubscriptions,
			Schedule: schedules.Renew,
			Timeout:  10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := renewer.RenewDue(ctx)
				return err
			},
		})
	}
	return tasks
}

// PeriodicRunner triggers tasks on cron schedules. A run is skipped while the
// previous run of the same task is still in flight.
type PeriodicRunner struct {
	mu     sync.Mutex
	cron   *cron.Cron
	tasks  map[string]PeriodicTask
	logger Logger
	wg     sync.WaitGroup
}

func NewPeriodicRunner(logger Logger, tasks ...PeriodicTask) (*PeriodicRunner, error) {
	runner := &PeriodicRunner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		tasks:  make(map[string]PeriodicTask),
		logger: glog.Ensure(logger),
	}
	for _, task := range tasks {
		if err := runner.Add(task); err != nil {
			return nil, err
		}
	}
	return runner, nil
}

func (r *PeriodicRunner) Add(task PeriodicTask) error {
	name := strings.TrimSpace(task.Name)
	if name == "" {
		return fmt.Errorf("core: periodic task name is required")
	}
	if task.Run == nil {
		return fmt.Errorf("core: periodic task %q has no run function", name)
	}
	task.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("core: periodic task %q already registered", name)
	}
	r.tasks[name] = task
	return nil
}

func (r *PeriodicRunner) TaskNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}

// Start schedules every task and starts the cron loop. Runs use ctx as their
// parent, so cancelling it aborts in-flight work.
func (r *PeriodicRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, task := range r.tasks {
		task := task
		if _, err := r.cron.AddFunc(task.Schedule, func() {
			r.execute(ctx, task)
		}); err != nil {
			return fmt.Errorf("core: schedule periodic task %s: %w", name, err)
		}
		logWithLevel(ctx, r.logger, "info", "periodic task registered", map[string]any{
			"task":     name,
			"schedule": task.Schedule,
		})
	}
	r.cron.Start()
	return nil
}

// Run starts the runner and blocks until ctx is done.
func (r *PeriodicRunner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.Stop()
	return ctx.Err()
}

// Stop halts scheduling and waits for running tasks.
func (r *PeriodicRunner) Stop() {
	done := r.cron.Stop()
	r.wg.Wait()
	<-done.Done()
}

// RunNow executes a registered task immediately.
func (r *PeriodicRunner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	task, ok := r.tasks[strings.TrimSpace(name)]
	r.mu.Unlock()
	if !ok {
		return badInput("core: periodic task %q is not registered", name)
	}
	return r.execute(ctx, task)
}

func (r *PeriodicRunner) execute(ctx context.Context, task PeriodicTask) error {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	startedAt := time.Now()
	err := task.Run(taskCtx)
	fields := map[string]any{
		"task":        task.Name,
		"duration_ms": time.Since(startedAt).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		logWithLevel(ctx, r.logger, "error", "periodic task failed", fields)
		return err
	}
	logWithLevel(ctx, r.logger, "debug", "periodic task finished", fields)
	return nil
}
