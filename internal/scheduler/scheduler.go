// Package scheduler refreshes every configured meter on a cron schedule and
// keeps the last good usage totals of each one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/esbmeter/internal/cache"
	"github.com/tejusbharadwaj/esbmeter/internal/database"
	"github.com/tejusbharadwaj/esbmeter/internal/metrics"
	"github.com/tejusbharadwaj/esbmeter/internal/models"
	"github.com/tejusbharadwaj/esbmeter/internal/usage"
)

const (
	DefaultSpec    = "*/5 * * * *"
	DefaultTimeout = 2 * time.Minute

	// restoreDays covers the longest window, a 31-day month.
	restoreDays = 31
)

// ErrNoData is returned by Current before the first refresh of a meter has
// finished.
var ErrNoData = errors.New("no usage yet")

// HealthReporter is told the outcome of every refresh.
type HealthReporter interface {
	SetServing(serving bool)
}

// Snapshot is the latest known state of a meter.
type Snapshot struct {
	// Usage is the last successfully computed usage. Its ComputedAt is zero
	// until the first success.
	Usage       models.Usage
	LastError   error
	AttemptedAt time.Time

	// Restored is set while Usage comes from stored readings rather than a
	// download made by this process.
	Restored bool
}

// HasUsage reports whether a successful refresh has happened.
func (s Snapshot) HasUsage() bool {
	return !s.Usage.ComputedAt.IsZero()
}

type Scheduler struct {
	ctx      context.Context
	registry *cache.Registry
	repo     database.ReadingsRepository
	health   HealthReporter
	logger   *logrus.Logger
	loc      *time.Location
	now      func() time.Time
	spec     string
	timeout  time.Duration
	cron     *cron.Cron

	mu        sync.RWMutex
	snapshots map[string]Snapshot
	persisted map[string]time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSpec sets the cron schedule.
func WithSpec(spec string) Option {
	return func(s *Scheduler) { s.spec = spec }
}

// WithRepository stores every newly downloaded set of readings.
func WithRepository(repo database.ReadingsRepository) Option {
	return func(s *Scheduler) { s.repo = repo }
}

func WithHealth(h HealthReporter) Option {
	return func(s *Scheduler) { s.health = h }
}

// WithLocation sets the zone the calendar windows are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTimeout bounds the refresh of one meter on a tick.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

func NewScheduler(ctx context.Context, registry *cache.Registry, logger *logrus.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	s := &Scheduler{
		ctx:       ctx,
		registry:  registry,
		logger:    logger,
		loc:       time.Local,
		now:       time.Now,
		spec:      DefaultSpec,
		timeout:   DefaultTimeout,
		snapshots: make(map[string]Snapshot),
		persisted: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cron.PrintfLogger(logger)),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)
	return s
}

// Start registers the refresh job, restores stored usage, starts the cron
// loop and runs a first refresh right away in the background.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.collectData); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	if err := s.Restore(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to restore usage from the database")
	}
	cancel()

	s.cron.Start()
	go s.collectData()
	return nil
}

// Stop the scheduler and wait for a running refresh to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// collectData refreshes every meter one after the other.
func (s *Scheduler) collectData() {
	for _, mprn := range s.registry.MPRNs() {
		if s.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		if _, err := s.Refresh(ctx, mprn); err != nil {
			s.logger.WithError(err).WithField("mprn", mprn).Error("Failed to refresh meter")
		}
		cancel()
	}
}

// Refresh returns the six window totals of mprn, reading through the meter's
// cache, so it logs in when the cache has expired. Every call updates the
// snapshot, the usage gauges and the health status; readings from a new
// download are persisted when a repository is configured.
func (s *Scheduler) Refresh(ctx context.Context, mprn string) (models.Usage, error) {
	c, err := s.registry.Get(mprn)
	if err != nil {
		return models.Usage{}, err
	}

	attempted := s.now()
	readings, err := c.Fetch(ctx)
	if err != nil {
		s.fail(mprn, attempted, err)
		return models.Usage{}, err
	}

	u := s.summarize(mprn, readings, c.FetchedAt())
	s.succeed(mprn, attempted, u)
	s.persist(ctx, mprn, u.FetchedAt, readings)
	return u, nil
}

// Current returns the usage of mprn without contacting the portal. Readings
// still inside the cache TTL are summarized now; otherwise the last good
// usage is returned. The flag reports a stale result: the latest refresh
// failed or the usage was restored from the database.
func (s *Scheduler) Current(mprn string) (models.Usage, bool, error) {
	c, err := s.registry.Get(mprn)
	if err != nil {
		return models.Usage{}, false, err
	}
	if readings, fetchedAt, ok := c.Peek(); ok {
		return s.summarize(mprn, readings, fetchedAt), false, nil
	}

	snap, ok := s.Snapshot(mprn)
	switch {
	case ok && snap.HasUsage():
		return snap.Usage, snap.LastError != nil || snap.Restored, nil
	case ok && snap.LastError != nil:
		return models.Usage{}, false, snap.LastError
	default:
		return models.Usage{}, false, fmt.Errorf("%w: %s", ErrNoData, mprn)
	}
}

// Restore seeds the snapshot of every meter without one from the readings
// stored by earlier runs. Restored usage carries the time of its newest
// reading as FetchedAt.
func (s *Scheduler) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	now := s.now().In(s.loc)
	for _, mprn := range s.registry.MPRNs() {
		readings, err := s.repo.Query(ctx, mprn, now.AddDate(0, 0, -restoreDays), now.Add(time.Minute))
		if err != nil {
			return fmt.Errorf("restore %s: %w", mprn, err)
		}
		if len(readings) == 0 {
			continue
		}
		u := s.summarize(mprn, readings, readings[len(readings)-1].Time)

		s.mu.Lock()
		if _, ok := s.snapshots[mprn]; ok {
			s.mu.Unlock()
			continue
		}
		s.snapshots[mprn] = Snapshot{Usage: u, Restored: true}
		s.mu.Unlock()

		setGauges(mprn, u)
		s.logger.WithFields(logrus.Fields{
			"mprn":     mprn,
			"readings": len(readings),
		}).Info("Restored usage from the database")
	}
	return nil
}

// Snapshot returns the latest state of mprn.
func (s *Scheduler) Snapshot(mprn string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[mprn]
	return snap, ok
}

func (s *Scheduler) succeed(mprn string, attempted time.Time, u models.Usage) {
	s.mu.Lock()
	s.snapshots[mprn] = Snapshot{Usage: u, AttemptedAt: attempted}
	s.mu.Unlock()

	setGauges(mprn, u)
	if s.health != nil {
		s.health.SetServing(true)
	}
}

func (s *Scheduler) summarize(mprn string, readings []models.Reading, fetchedAt time.Time) models.Usage {
	u := usage.Summarize(readings, s.now().In(s.loc))
	u.MPRN = mprn
	u.FetchedAt = fetchedAt
	return u
}

func setGauges(mprn string, u models.Usage) {
	for _, w := range usage.Windows {
		metrics.UsageKWh.WithLabelValues(mprn, string(w)).Set(usage.Value(u, w))
	}
}

// fail keeps the last good usage and records err next to it.
func (s *Scheduler) fail(mprn string, attempted time.Time, err error) {
	s.mu.Lock()
	snap := s.snapshots[mprn]
	snap.LastError = err
	snap.AttemptedAt = attempted
	s.snapshots[mprn] = snap
	s.mu.Unlock()

	if s.health != nil {
		s.health.SetServing(false)
	}
}

// persist stores each download once; cache hits carry the same fetch time.
func (s *Scheduler) persist(ctx context.Context, mprn string, fetchedAt time.Time, readings []models.Reading) {
	if s.repo == nil {
		return
	}

	s.mu.Lock()
	if !s.persisted[mprn].Before(fetchedAt) {
		s.mu.Unlock()
		return
	}
	s.persisted[mprn] = fetchedAt
	s.mu.Unlock()

	if err := s.repo.BatchInsertReadings(ctx, mprn, readings); err != nil {
		s.mu.Lock()
		delete(s.persisted, mprn)
		s.mu.Unlock()
		s.logger.WithError(err).WithField("mprn", mprn).Error("Failed to store readings")
	}
}
