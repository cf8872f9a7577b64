package etl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// standard 5-field cron: minute hour day-of-month month day-of-week
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validate a 5-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, NewEtlError(ErrCodeCron, "invalid cron expression:%v", expr, err)
	}
	return schedule, nil
}

// PreviewNextRuns the next count fire times of a cron expression from now.
// Pure function, mutates no schedule.
func PreviewNextRuns(expr string, count int) ([]time.Time, error) {
	return previewNextRunsFrom(expr, count, time.Now())
}

func previewNextRunsFrom(expr string, count int, from time.Time) ([]time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, count)
	t := from
	for i := 0; i < count; i++ {
		t = schedule.Next(t)
		times = append(times, t)
	}
	return times, nil
}

// fireFunc invoked by the scheduler when an entry is due. Implementations run
// on the schedule pool, never on the timer loop.
type fireFunc func(ctx context.Context, entry *ScheduleEntry)

// CronScheduler owns the recurring triggers of pipelines and collection
// tasks. A single timer loop polls due entries and hands execution off to a
// worker pool, so timer accuracy never depends on run duration.
type CronScheduler struct {
	repository Repository
	fire       fireFunc
	interval   time.Duration
	clock      func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
}

// NewCronScheduler create a scheduler polling at the given interval.
func NewCronScheduler(repository Repository, interval time.Duration, fire fireFunc) *CronScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &CronScheduler{
		repository: repository,
		fire:       fire,
		interval:   interval,
		clock:      time.Now,
	}
}

// AddSchedule validate the cron expression, compute the first fire time and
// persist an active entry. Replaces any existing entry of the same owner.
func (s *CronScheduler) AddSchedule(ownerID string, ownerType OwnerType, expr string) (*ScheduleEntry, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	entry := &ScheduleEntry{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		OwnerType:   ownerType,
		Cron:        expr,
		NextRunTime: schedule.Next(s.clock()),
		IsActive:    true,
	}
	if err := s.repository.SaveSchedule(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveSchedule delete the owner's entry; idempotent when none exists.
func (s *CronScheduler) RemoveSchedule(ownerID string) error {
	return s.repository.DeleteScheduleByOwner(ownerID)
}

// Pause deactivate without losing the cron expression.
func (s *CronScheduler) Pause(ownerID string) error {
	entry, err := s.findEntry(ownerID)
	if err != nil {
		return err
	}
	entry.IsActive = false
	return s.repository.SaveSchedule(entry)
}

// Resume reactivate and recompute the next fire from now. Fires missed while
// paused are not caught up.
func (s *CronScheduler) Resume(ownerID string) error {
	entry, err := s.findEntry(ownerID)
	if err != nil {
		return err
	}
	schedule, err := ParseCron(entry.Cron)
	if err != nil {
		return err
	}
	entry.IsActive = true
	entry.NextRunTime = schedule.Next(s.clock())
	return s.repository.SaveSchedule(entry)
}

// NextRun the computed next fire time of an owner's entry. Valid for paused
// entries too, for preview purposes.
func (s *CronScheduler) NextRun(ownerID string) (time.Time, error) {
	entry, err := s.findEntry(ownerID)
	if err != nil {
		return time.Time{}, err
	}
	return entry.NextRunTime, nil
}

func (s *CronScheduler) findEntry(ownerID string) (*ScheduleEntry, error) {
	entry, err := s.repository.FindScheduleByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, NewEtlError(ErrCodeCron, "no schedule for owner:%v", ownerID)
	}
	return entry, nil
}

// Start launch the timer loop. Safe to call once; Stop ends the loop.
func (s *CronScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	go s.loop(ctx, s.stopCh)
}

func (s *CronScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	close(s.stopCh)
	s.started = false
}

func (s *CronScheduler) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick one poll pass: dispatch every active due entry and advance its next
// fire time. Exported for deterministic tests.
func (s *CronScheduler) Tick(ctx context.Context) {
	now := s.clock()
	entries, err := s.repository.ListSchedules()
	if err != nil {
		DefaultLogger.Error(ctx, "list schedules failed, err:%v", err)
		return
	}
	for _, entry := range entries {
		if !entry.IsActive || entry.NextRunTime.After(now) {
			continue
		}
		schedule, err := ParseCron(entry.Cron)
		if err != nil {
			DefaultLogger.Error(ctx, "schedule:%v has invalid cron:%v, pausing it, err:%v", entry.ID, entry.Cron, err)
			entry.IsActive = false
			if serr := s.repository.SaveSchedule(entry); serr != nil {
				DefaultLogger.Error(ctx, "pause schedule:%v failed, err:%v", entry.ID, serr)
			}
			continue
		}
		entry.NextRunTime = schedule.Next(now)
		if err := s.repository.SaveSchedule(entry); err != nil {
			DefaultLogger.Error(ctx, "advance schedule:%v failed, err:%v", entry.ID, err)
			continue
		}
		fired := entry
		schedulePool.Submit(ctx, func() (interface{}, error) {
			s.fire(ctx, fired)
			return nil, nil
		})
	}
}
