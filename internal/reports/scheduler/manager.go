package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// Job binds a named function to a six-field cron expression (seconds first).
type Job struct {
	Name           string
	CronExpression string
	Timeout        time.Duration
	Run            JobFunc
}

// Manager runs background jobs on cron schedules. Runs of the same job never
// overlap; a run still in progress when the next tick fires is skipped.
type Manager struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	logger  *zap.Logger
	mu      sync.RWMutex
	running bool
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		jobs:   make(map[string]cron.EntryID),
		logger: logger,
	}
}

// AddJob registers a job, replacing any job with the same name.
func (m *Manager) AddJob(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job requires a name and a function")
	}
	if err := ValidateCronExpression(job.CronExpression); err != nil {
		return fmt.Errorf("invalid schedule for job %s: %w", job.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[job.Name]; ok {
		m.cron.Remove(entryID)
	}

	entryID, err := m.cron.AddFunc(job.CronExpression, func() {
		m.execute(job)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	m.jobs[job.Name] = entryID

	m.logger.Info("Added job",
		zap.String("job", job.Name),
		zap.String("cron", job.CronExpression))
	return nil
}

// RunNow executes a registered job synchronously, outside its schedule.
func (m *Manager) RunNow(ctx context.Context, job Job) error {
	return m.run(ctx, job)
}

func (m *Manager) execute(job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = m.run(ctx, job)
}

func (m *Manager) run(ctx context.Context, job Job) error {
	started := time.Now()
	m.logger.Info("Executing job", zap.String("job", job.Name))

	if err := job.Run(ctx); err != nil {
		m.logger.Error("Job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err))
		return err
	}

	m.logger.Info("Job completed",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(started)))
	return nil
}

// RemoveJob removes a job from the manager.
func (m *Manager) RemoveJob(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[name]; ok {
		m.cron.Remove(entryID)
		delete(m.jobs, name)
		m.logger.Info("Removed job", zap.String("job", name))
	}
}

// Start starts the cron scheduler.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("scheduler already running")
	}
	m.running = true
	m.logger.Info("Starting scheduler", zap.Int("jobs", len(m.jobs)))
	m.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs until ctx expires.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Stopping scheduler")
	done := m.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		m.logger.Warn("Scheduler stopped before running jobs finished")
	}
}

// GetActiveJobs returns the number of registered jobs.
func (m *Manager) GetActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// GetJobStatus returns the previous and next run of a job.
func (m *Manager) GetJobStatus(name string) (*JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entryID, ok := m.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job not found")
	}
	entry := m.cron.Entry(entryID)
	return &JobStatus{
		Name:     name,
		NextRun:  entry.Next,
		PrevRun:  entry.Prev,
		IsActive: m.running,
	}, nil
}

// JobStatus represents the status of a scheduled job
type JobStatus struct {
	Name     string    `json:"name"`
	NextRun  time.Time `json:"next_run"`
	PrevRun  time.Time `json:"prev_run"`
	IsActive bool      `json:"is_active"`
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronExpression validates a six-field cron expression.
func ValidateCronExpression(expr string) error {
	_, err := parser.Parse(expr)
	return err
}

// NextRun returns the next activation of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
