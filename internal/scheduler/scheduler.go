// Package scheduler tracks the state of the fixed set of background jobs:
// whether each is enabled, when it last ran, how long it took and when it is next due.
//
// It holds no business logic. The worker in package tasks asks for due jobs,
// runs them and reports back with [Scheduler.RecordRun].
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/rotator/internal/shared"
)

// Job names.
const (
	JobReshuffleDue  = "reshuffle_due_playlists"
	JobRefreshTokens = "refresh_spotify_tokens"
	JobMetrics       = "metrics_snapshot"
	JobScaling       = "scale_playlists_daily"
)

// Definition declares a job and its cadence.
type Definition struct {
	Name    string
	Cadence time.Duration
	Enabled bool
}

// DefaultDefinitions returns the job table using the cadences from cfg.
//
// The scaling job starts disabled when no scaling target is configured.
func DefaultDefinitions(cfg *shared.Config) []Definition {
	s := cfg.Scheduler
	return []Definition{
		{Name: JobReshuffleDue, Cadence: minutes(s.ReshuffleMinutes, 60), Enabled: true},
		{Name: JobRefreshTokens, Cadence: minutes(s.TokenRefreshMinutes, 30), Enabled: true},
		{Name: JobMetrics, Cadence: minutes(s.MetricsMinutes, 60), Enabled: true},
		{Name: JobScaling, Cadence: minutes(s.ScalingHours*60, 24*60), Enabled: cfg.Scaling.TargetPlaylistsPerAccount > 0},
	}
}

func minutes(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Minute
}

// Job is a point-in-time copy of a job's state.
type Job struct {
	Name         string        `json:"name"`
	Enabled      bool          `json:"enabled"`
	Cadence      time.Duration `json:"cadence"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	NextRun      time.Time     `json:"next_run"`
	LastDuration time.Duration `json:"last_duration"`
	Runs         int           `json:"runs"`
}

// Status is "enabled" or "disabled".
func (j Job) Status() string {
	if j.Enabled {
		return "enabled"
	}
	return "disabled"
}

type entry struct {
	mu  sync.Mutex
	job Job
}

func (e *entry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	job := e.job
	if job.LastRun != nil {
		last := *job.LastRun
		job.LastRun = &last
	}
	return job
}

// Scheduler holds the job table. The set of jobs is fixed at construction,
// so lookups need no lock; each entry guards its own state.
type Scheduler struct {
	jobs  map[string]*entry
	order []string
	now   func() time.Time
}

// New creates a Scheduler for defs. Each job is first due one cadence from now.
func New(defs ...Definition) *Scheduler {
	return NewWithClock(time.Now, defs...)
}

// NewWithClock is [New] with an injectable clock.
func NewWithClock(now func() time.Time, defs ...Definition) *Scheduler {
	s := &Scheduler{jobs: make(map[string]*entry, len(defs)), now: now}
	start := now()
	for _, d := range defs {
		if _, dup := s.jobs[d.Name]; dup {
			continue
		}
		s.jobs[d.Name] = &entry{job: Job{
			Name:    d.Name,
			Enabled: d.Enabled,
			Cadence: d.Cadence,
			NextRun: start.Add(d.Cadence),
		}}
		s.order = append(s.order, d.Name)
	}
	return s
}

func (s *Scheduler) lookup(name string) (*entry, error) {
	e, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, name)
	}
	return e, nil
}

// List returns every job in registration order.
func (s *Scheduler) List() []Job {
	jobs := make([]Job, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name].snapshot())
	}
	return jobs
}

// Get returns the named job.
func (s *Scheduler) Get(name string) (Job, error) {
	e, err := s.lookup(name)
	if err != nil {
		return Job{}, err
	}
	return e.snapshot(), nil
}

// SetEnabled enables or disables the named job. Its due time is left unchanged.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.job.Enabled = enabled
	e.mu.Unlock()
	return nil
}

// Trigger makes the named job due immediately.
func (s *Scheduler) Trigger(name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.job.NextRun = s.now()
	e.mu.Unlock()
	return nil
}

// RecordRun stores a completed run of the named job. The next run is one cadence after completion.
func (s *Scheduler) RecordRun(name string, took time.Duration) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}

	now := s.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.LastRun = &now
	e.job.LastDuration = took
	e.job.NextRun = now.Add(e.job.Cadence)
	e.job.Runs++
	return nil
}

// Due returns the enabled jobs whose next run is at or before now, earliest first.
func (s *Scheduler) Due(now time.Time) []Job {
	var due []Job
	for _, name := range s.order {
		job := s.jobs[name].snapshot()
		if job.Enabled && !job.NextRun.After(now) {
			due = append(due, job)
		}
	}

	sort.SliceStable(due, func(i, j int) bool { return due[i].NextRun.Before(due[j].NextRun) })
	return due
}
