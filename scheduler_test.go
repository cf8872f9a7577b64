package etl

import (
	"context"
	"testing"
	"time"

	"github.com/bmizerany/assert"
)

func TestParseCron(t *testing.T) {
	cases := []struct {
		expr string
		ok   bool
	}{
		{"*/5 * * * *", true},
		{"0 3 * * 1", true},
		{"30 14 1 * *", true},
		{"* * * *", false},
		{"61 * * * *", false},
		{"not cron", false},
	}
	for _, c := range cases {
		_, err := ParseCron(c.expr)
		if c.ok {
			assert.Equalf(t, nil, err, "expr:%v", c.expr)
		} else {
			assert.Equalf(t, ErrCodeCron, ErrCode(err), "expr:%v", c.expr)
		}
	}
}

func TestPreviewNextRunsDaily(t *testing.T) {
	from := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	times, err := previewNextRunsFrom("0 0 * * *", 3, from)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(times))
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), times[0])
	for i := 1; i < len(times); i++ {
		assert.Equal(t, 24*time.Hour, times[i].Sub(times[i-1]))
	}
}

func TestPreviewNextRunsInvalidExpression(t *testing.T) {
	_, err := PreviewNextRuns("* * *", 3)
	assert.Equal(t, ErrCodeCron, ErrCode(err))
}

type firedEntries struct {
	ch chan *ScheduleEntry
}

func (f *firedEntries) fire(_ context.Context, entry *ScheduleEntry) {
	f.ch <- entry
}

func (f *firedEntries) next(t *testing.T) *ScheduleEntry {
	select {
	case entry := <-f.ch:
		return entry
	case <-time.After(2 * time.Second):
		t.Fatal("expected a schedule fire, got none")
		return nil
	}
}

func (f *firedEntries) expectNone(t *testing.T) {
	select {
	case entry := <-f.ch:
		t.Fatalf("unexpected fire for owner:%v", entry.OwnerID)
	case <-time.After(50 * time.Millisecond):
	}
}

func schedulerFixture(now time.Time) (*CronScheduler, Repository, *firedEntries) {
	repo := NewMemoryRepository()
	fired := &firedEntries{ch: make(chan *ScheduleEntry, 8)}
	s := NewCronScheduler(repo, time.Second, fired.fire)
	s.clock = func() time.Time { return now }
	return s, repo, fired
}

func TestAddScheduleComputesNextRun(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	s, repo, _ := schedulerFixture(now)

	entry, err := s.AddSchedule("p1", OwnerPipeline, "0 12 * * *")
	assert.Equal(t, nil, err)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), entry.NextRunTime)
	assert.Equal(t, true, entry.IsActive)

	saved, serr := repo.FindScheduleByOwner("p1")
	assert.Equal(t, nil, serr)
	assert.Equal(t, entry.NextRunTime, saved.NextRunTime)
}

func TestAddScheduleRejectsInvalidCron(t *testing.T) {
	s, repo, _ := schedulerFixture(time.Now())
	_, err := s.AddSchedule("p1", OwnerPipeline, "banana")
	assert.Equal(t, ErrCodeCron, ErrCode(err))
	saved, _ := repo.FindScheduleByOwner("p1")
	assert.Equal(t, (*ScheduleEntry)(nil), saved)
}

func TestTickFiresDueEntriesAndAdvances(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)
	s, repo, fired := schedulerFixture(now)

	// due a minute ago
	_ = repo.SaveSchedule(&ScheduleEntry{
		ID: "s1", OwnerID: "p1", OwnerType: OwnerPipeline, Cron: "* * * * *",
		NextRunTime: now.Add(-time.Minute), IsActive: true,
	})
	// not due yet
	_ = repo.SaveSchedule(&ScheduleEntry{
		ID: "s2", OwnerID: "p2", OwnerType: OwnerPipeline, Cron: "* * * * *",
		NextRunTime: now.Add(time.Hour), IsActive: true,
	})

	s.Tick(context.Background())

	entry := fired.next(t)
	assert.Equal(t, "p1", entry.OwnerID)
	fired.expectNone(t)

	// next fire recomputed from now, not from the stale entry time
	saved, _ := repo.FindScheduleByOwner("p1")
	assert.Equal(t, time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC), saved.NextRunTime)
}

func TestTickSkipsInactiveEntries(t *testing.T) {
	now := time.Now()
	s, repo, fired := schedulerFixture(now)
	_ = repo.SaveSchedule(&ScheduleEntry{
		ID: "s1", OwnerID: "p1", OwnerType: OwnerPipeline, Cron: "* * * * *",
		NextRunTime: now.Add(-time.Minute), IsActive: false,
	})
	s.Tick(context.Background())
	fired.expectNone(t)
}

func TestTickPausesEntriesWithBrokenCron(t *testing.T) {
	now := time.Now()
	s, repo, fired := schedulerFixture(now)
	_ = repo.SaveSchedule(&ScheduleEntry{
		ID: "s1", OwnerID: "p1", OwnerType: OwnerPipeline, Cron: "no longer valid",
		NextRunTime: now.Add(-time.Minute), IsActive: true,
	})
	s.Tick(context.Background())
	fired.expectNone(t)

	saved, _ := repo.FindScheduleByOwner("p1")
	assert.Equal(t, false, saved.IsActive)
}

func TestPauseAndResume(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	s, repo, fired := schedulerFixture(now)
	_, err := s.AddSchedule("p1", OwnerPipeline, "0 11 * * *")
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, s.Pause("p1"))
	saved, _ := repo.FindScheduleByOwner("p1")
	assert.Equal(t, false, saved.IsActive)
	assert.Equal(t, "0 11 * * *", saved.Cron)

	// a due fire while paused is never caught up
	s.clock = func() time.Time { return now.Add(4 * time.Hour) }
	s.Tick(context.Background())
	fired.expectNone(t)

	assert.Equal(t, nil, s.Resume("p1"))
	saved, _ = repo.FindScheduleByOwner("p1")
	assert.Equal(t, true, saved.IsActive)
	// recomputed from the resume clock: next 11:00 is tomorrow
	assert.Equal(t, time.Date(2024, 6, 2, 11, 0, 0, 0, time.UTC), saved.NextRunTime)
}

func TestPauseUnknownOwner(t *testing.T) {
	s, _, _ := schedulerFixture(time.Now())
	err := s.Pause("ghost")
	assert.Equal(t, ErrCodeCron, ErrCode(err))
}

func TestNextRunReadsPausedEntries(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	s, _, _ := schedulerFixture(now)
	_, err := s.AddSchedule("p1", OwnerPipeline, "30 10 * * *")
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, s.Pause("p1"))

	next, err := s.NextRun("p1")
	assert.Equal(t, nil, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC), next)
}

func TestRemoveScheduleIsIdempotent(t *testing.T) {
	s, _, _ := schedulerFixture(time.Now())
	_, err := s.AddSchedule("p1", OwnerPipeline, "* * * * *")
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, s.RemoveSchedule("p1"))
	assert.Equal(t, nil, s.RemoveSchedule("p1"))
}
