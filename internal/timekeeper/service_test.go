package timekeeper

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/timekeeper/internal/domain"
	"github.com/ykvlv/timekeeper/internal/store"
)

var alice = Identity{ID: "U1", Name: "alice"}

func newTestService(t *testing.T, opts Options) (*Service, *store.SQLRepo) {
	t.Helper()
	repo, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "timekeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	if opts.DefaultTZ == "" {
		opts.DefaultTZ = "Asia/Tokyo"
	}
	return New(repo, zap.NewNop(), opts), repo
}

func newTrackedService(t *testing.T) (*Service, *store.SQLRepo) {
	t.Helper()
	svc, repo := newTestService(t, Options{TimesheetLimit: 30})
	_, err := svc.OptIn(context.Background(), alice)
	require.NoError(t, err)
	return svc, repo
}

func clock(day, hour int) time.Time {
	return time.Date(2017, 1, day, hour, 0, 0, 0, time.UTC)
}

func attendances(t *testing.T, repo store.Repo, userID string) []domain.Attendance {
	t.Helper()
	list, err := repo.ListAttendances(context.Background(), userID, 0)
	require.NoError(t, err)
	return list
}

func TestStartThenFinish_UpdatesSameRow(t *testing.T) {
	svc, repo := newTrackedService(t)
	ctx := context.Background()

	reply, err := svc.StartWorking(ctx, alice, clock(1, 0))
	require.NoError(t, err)
	assert.True(t, reply.Ack)
	assert.Empty(t, reply.Messages)

	reply, err = svc.FinishWorking(ctx, alice, clock(1, 3))
	require.NoError(t, err)
	assert.True(t, reply.Ack)
	assert.Empty(t, reply.Messages)

	rows := attendances(t, repo, alice.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, clock(1, 0), *rows[0].StartedAt)
	assert.Equal(t, clock(1, 3), *rows[0].FinishedAt)
}

func TestStartTwice_CreatesSecondOpenRowWithNotice(t *testing.T) {
	svc, repo := newTrackedService(t)
	ctx := context.Background()

	_, err := svc.StartWorking(ctx, alice, clock(1, 0))
	require.NoError(t, err)
	reply, err := svc.StartWorking(ctx, alice, clock(1, 2))
	require.NoError(t, err)
	assert.True(t, reply.Ack)
	assert.Equal(t, []string{missedFinishText}, reply.Messages)

	rows := attendances(t, repo, alice.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, clock(1, 2), *rows[0].StartedAt)
	assert.Nil(t, rows[0].FinishedAt)
	assert.Equal(t, clock(1, 0), *rows[1].StartedAt)
	assert.Nil(t, rows[1].FinishedAt)
}

func TestFinishWithoutStart_CreatesFinishOnlyRowWithNotice(t *testing.T) {
	svc, repo := newTrackedService(t)
	ctx := context.Background()

	reply, err := svc.FinishWorking(ctx, alice, clock(1, 5))
	require.NoError(t, err)
	assert.True(t, reply.Ack)
	assert.Equal(t, []string{missedStartText}, reply.Messages)

	rows := attendances(t, repo, alice.ID)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].StartedAt)
	assert.Equal(t, clock(1, 5), *rows[0].FinishedAt)
}

func TestRepeatedFinish_NeverMerges(t *testing.T) {
	svc, repo := newTrackedService(t)
	ctx := context.Background()

	_, err := svc.StartWorking(ctx, alice, clock(1, 0))
	require.NoError(t, err)
	_, err = svc.FinishWorking(ctx, alice, clock(1, 1))
	require.NoError(t, err)

	for hour := 2; hour <= 4; hour++ {
		reply, err := svc.FinishWorking(ctx, alice, clock(1, hour))
		require.NoError(t, err)
		assert.Equal(t, []string{missedStartText}, reply.Messages)
	}

	rows := attendances(t, repo, alice.ID)
	require.Len(t, rows, 4)
	orphans := 0
	for _, a := range rows {
		if a.StartedAt == nil {
			orphans++
			assert.NotNil(t, a.FinishedAt)
		}
	}
	assert.Equal(t, 3, orphans)
}

func TestFinishAfterDoubleStart_ClosesLatest(t *testing.T) {
	svc, repo := newTrackedService(t)
	ctx := context.Background()

	_, err := svc.StartWorking(ctx, alice, clock(1, 0))
	require.NoError(t, err)
	_, err = svc.StartWorking(ctx, alice, clock(1, 2))
	require.NoError(t, err)
	reply, err := svc.FinishWorking(ctx, alice, clock(1, 4))
	require.NoError(t, err)
	assert.Empty(t, reply.Messages)

	rows := attendances(t, repo, alice.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, clock(1, 4), *rows[0].FinishedAt)
	assert.Nil(t, rows[1].FinishedAt)
}

func TestStartAfterFinishOnly_NoNotice(t *testing.T) {
	svc, _ := newTrackedService(t)
	ctx := context.Background()

	_, err := svc.FinishWorking(ctx, alice, clock(1, 1))
	require.NoError(t, err)
	reply, err := svc.StartWorking(ctx, alice, clock(1, 2))
	require.NoError(t, err)
	assert.True(t, reply.Ack)
	assert.Empty(t, reply.Messages)
}

func TestNowIsStoredAsUTC(t *testing.T) {
	svc, repo := newTrackedService(t)
	ctx := context.Background()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	_, err = svc.StartWorking(ctx, alice, time.Date(2017, 1, 1, 9, 0, 0, 0, tokyo))
	require.NoError(t, err)

	rows := attendances(t, repo, alice.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, clock(1, 0), *rows[0].StartedAt)
	assert.Equal(t, time.UTC, rows[0].StartedAt.Location())
}

func TestUntrackedUser_RecordsNothing(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	ctx := context.Background()

	for hour := 0; hour < 4; hour++ {
		reply, err := svc.StartWorking(ctx, alice, clock(1, hour))
		require.NoError(t, err)
		assert.True(t, reply.Empty())
		reply, err = svc.FinishWorking(ctx, alice, clock(1, hour))
		require.NoError(t, err)
		assert.True(t, reply.Empty())
	}
	assert.Empty(t, attendances(t, repo, alice.ID))

	_, err := svc.OptIn(ctx, alice)
	require.NoError(t, err)
	_, err = svc.StartWorking(ctx, alice, clock(2, 0))
	require.NoError(t, err)
	assert.Len(t, attendances(t, repo, alice.ID), 1)
}

func TestMissingIdentity_IsDropped(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	ctx := context.Background()
	nobody := Identity{}

	for _, call := range []func() (Reply, error){
		func() (Reply, error) { return svc.StartWorking(ctx, nobody, clock(1, 0)) },
		func() (Reply, error) { return svc.FinishWorking(ctx, nobody, clock(1, 0)) },
		func() (Reply, error) { return svc.OptIn(ctx, nobody) },
		func() (Reply, error) { return svc.OptOut(ctx, nobody) },
		func() (Reply, error) { return svc.SetTimezone(ctx, nobody, "UTC") },
		func() (Reply, error) { return svc.Timesheet(ctx, nobody) },
		func() (Reply, error) { return svc.DailyTimesheet(ctx, nobody) },
		func() (Reply, error) { return svc.Contributions(ctx, nobody) },
	} {
		reply, err := call()
		require.NoError(t, err)
		assert.True(t, reply.Empty())
	}

	cols, rows, err := repo.Query(ctx, `SELECT id FROM "user"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, cols)
	assert.Empty(t, rows)
}

func TestOptInOut(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	ctx := context.Background()

	reply, err := svc.OptOut(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{notTrackingText}, reply.Messages)

	reply, err = svc.OptIn(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{trackingText}, reply.Messages)

	reply, err = svc.OptIn(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{alreadyTrackingText}, reply.Messages)

	u, err := repo.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, u.Trackable)

	reply, err = svc.OptOut(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{untrackedText}, reply.Messages)
}

func TestUserCreation_DefaultsAndNameBackfill(t *testing.T) {
	svc, repo := newTestService(t, Options{DefaultTZ: "Europe/London"})
	ctx := context.Background()

	_, err := svc.OptOut(ctx, Identity{ID: "U1"})
	require.NoError(t, err)
	u, err := repo.GetUser(ctx, "U1")
	require.NoError(t, err)
	assert.Nil(t, u.Name)
	assert.Equal(t, "Europe/London", u.TimezoneID)
	assert.False(t, u.Trackable)

	_, err = svc.OptOut(ctx, Identity{ID: "U1", Name: "alice"})
	require.NoError(t, err)
	u, err = repo.GetUser(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, u.Name)
	assert.Equal(t, "alice", *u.Name)

	// The stored name is not overwritten by later usernames.
	_, err = svc.OptOut(ctx, Identity{ID: "U1", Name: "alice2"})
	require.NoError(t, err)
	u, err = repo.GetUser(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "alice", *u.Name)
}

func TestSharedUsername_DoesNotBlockEvents(t *testing.T) {
	svc, repo := newTestService(t, Options{TimesheetLimit: 30})
	ctx := context.Background()
	first := Identity{ID: "U1", Name: "bob"}
	second := Identity{ID: "U2", Name: "bob"}

	_, err := svc.OptIn(ctx, first)
	require.NoError(t, err)

	reply, err := svc.OptIn(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, []string{trackingText}, reply.Messages)

	reply, err = svc.StartWorking(ctx, second, clock(1, 0))
	require.NoError(t, err)
	assert.True(t, reply.Ack)

	reply, err = svc.Timesheet(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, reply.File)

	assert.Len(t, attendances(t, repo, second.ID), 1)
	u, err := repo.GetUser(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, u.Name)
	u, err = repo.GetUser(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", *u.Name)
}

func TestConcurrentEvents_AcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timekeeper.db")
	ctx := context.Background()

	// Two handles on one file stand in for two bot processes.
	services := make([]*Service, 2)
	var repo *store.SQLRepo
	for i := range services {
		r, err := store.Open(ctx, path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close() })
		services[i] = New(r, zap.NewNop(), Options{DefaultTZ: "UTC"})
		repo = r
	}

	_, err := services[0].OptIn(ctx, alice)
	require.NoError(t, err)
	_, err = services[0].StartWorking(ctx, alice, clock(1, 0))
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(svc *Service, hour int) {
			defer wg.Done()
			if _, err := svc.FinishWorking(ctx, alice, clock(1, hour)); err != nil {
				errs <- err
			}
		}(services[i%len(services)], 1+i%8)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	// Exactly one finish closed the open row; every other one was recorded
	// as a finish-only row.
	var complete, finishOnly int
	for _, a := range attendances(t, repo, alice.ID) {
		switch {
		case domain.IsComplete(&a):
			complete++
		case a.StartedAt == nil && a.FinishedAt != nil:
			finishOnly++
		default:
			t.Errorf("unexpected row %+v", a)
		}
	}
	assert.Equal(t, 1, complete)
	assert.Equal(t, workers-1, finishOnly)
}

func TestSetTimezone(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	ctx := context.Background()

	reply, err := svc.SetTimezone(ctx, alice, "Europe/London")
	require.NoError(t, err)
	assert.Equal(t, []string{timezoneUpdatedText}, reply.Messages)

	reply, err = svc.SetTimezone(ctx, alice, "Europe/Londn")
	require.NoError(t, err)
	assert.Equal(t, []string{unknownTimezoneText}, reply.Messages)

	u, err := repo.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", u.TimezoneID)
}

func TestSetTimezone_UnknownDoesNotCreateUser(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.SetTimezone(ctx, alice, "Nowhere/Special")
	require.NoError(t, err)
	_, err = repo.GetUser(ctx, alice.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestTimesheet(t *testing.T) {
	svc, _ := newTrackedService(t)
	ctx := context.Background()

	reply, err := svc.Timesheet(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{noTimesheetText}, reply.Messages)
	assert.Nil(t, reply.File)

	_, err = svc.StartWorking(ctx, alice, clock(1, 0))
	require.NoError(t, err)
	_, err = svc.FinishWorking(ctx, alice, clock(1, 3))
	require.NoError(t, err)
	_, err = svc.StartWorking(ctx, alice, clock(2, 0))
	require.NoError(t, err)

	reply, err = svc.Timesheet(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, reply.File)
	assert.Equal(t, timesheetFile, reply.File.Name)
	assert.Equal(t, timesheetComment, reply.File.Comment)
	assert.True(t, reply.File.Text)

	want := strings.Join([]string{
		"start                finish               working time",
		"-------------------  -------------------  --------------",
		"2017-01-02 09:00:00",
		"2017-01-01 09:00:00  2017-01-01 12:00:00  03:00:00",
	}, "\n")
	assert.Equal(t, want, string(reply.File.Data))
}

func TestTimesheet_Limit(t *testing.T) {
	svc, _ := newTestService(t, Options{TimesheetLimit: 2})
	ctx := context.Background()
	_, err := svc.OptIn(ctx, alice)
	require.NoError(t, err)

	for day := 1; day <= 4; day++ {
		_, err := svc.StartWorking(ctx, alice, clock(day, 0))
		require.NoError(t, err)
	}
	reply, err := svc.Timesheet(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, reply.File)
	lines := strings.Split(string(reply.File.Data), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "2017-01-04 09:00:00", lines[2])
	assert.Equal(t, "2017-01-03 09:00:00", lines[3])
}

func TestDailyTimesheet(t *testing.T) {
	svc, _ := newTrackedService(t)
	ctx := context.Background()

	reply, err := svc.DailyTimesheet(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{noDailyTimesheetText}, reply.Messages)

	// Open sessions alone never make a day.
	_, err = svc.StartWorking(ctx, alice, clock(1, 0))
	require.NoError(t, err)
	reply, err = svc.DailyTimesheet(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{noDailyTimesheetText}, reply.Messages)

	_, err = svc.FinishWorking(ctx, alice, clock(1, 3))
	require.NoError(t, err)
	_, err = svc.StartWorking(ctx, alice, clock(1, 5))
	require.NoError(t, err)
	_, err = svc.FinishWorking(ctx, alice, clock(1, 6))
	require.NoError(t, err)

	reply, err = svc.DailyTimesheet(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, reply.File)
	assert.Equal(t, dailyTimesheetFile, reply.File.Name)

	want := strings.Join([]string{
		"start                finish                 break count  working time",
		"-------------------  -------------------  -------------  --------------",
		"2017-01-01 09:00:00  2017-01-01 15:00:00              1  04:00:00",
	}, "\n")
	assert.Equal(t, want, string(reply.File.Data))
}

func TestContributions(t *testing.T) {
	svc, _ := newTrackedService(t)
	ctx := context.Background()

	reply, err := svc.Contributions(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{noTimesheetText}, reply.Messages)

	// A single day yields an undefined ratio but still renders.
	_, err = svc.StartWorking(ctx, alice, clock(1, 0))
	require.NoError(t, err)
	_, err = svc.FinishWorking(ctx, alice, clock(1, 3))
	require.NoError(t, err)

	reply, err = svc.Contributions(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{waitText}, reply.Messages)
	require.NotNil(t, reply.File)
	assert.Equal(t, contributionsFile, reply.File.Name)
	assert.Equal(t, contributionsComment, reply.File.Comment)
	assert.False(t, reply.File.Text)

	_, err = png.Decode(bytes.NewReader(reply.File.Data))
	require.NoError(t, err)
}

func TestDebug(t *testing.T) {
	ctx := context.Background()

	off, _ := newTestService(t, Options{})
	reply, err := off.Debug(ctx, `SELECT 1`)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultReply}, reply.Messages)

	on, _ := newTestService(t, Options{Debug: true})
	_, err = on.OptIn(ctx, alice)
	require.NoError(t, err)
	reply, err = on.Debug(ctx, `SELECT id, trackable FROM "user"`)
	require.NoError(t, err)
	require.Len(t, reply.Messages, 1)
	assert.Contains(t, reply.Messages[0], "U1")

	reply, err = on.Debug(ctx, `SELECT * FROM missing_table`)
	require.NoError(t, err)
	assert.Contains(t, reply.Messages[0], "missing_table")
}

func TestHelp(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	reply := svc.Help()
	require.Len(t, reply.Messages, 1)
	assert.Contains(t, reply.Messages[0], "track me")
}

type failingRepo struct {
	store.Repo
}

func (failingRepo) InTx(context.Context, func(q store.Queries) error) error {
	return &store.StorageError{Op: "begin", Err: errors.New("connection refused")}
}

func TestStorageErrorsPropagate(t *testing.T) {
	svc := New(failingRepo{}, zap.NewNop(), Options{})
	_, err := svc.StartWorking(context.Background(), alice, clock(1, 0))
	var se *store.StorageError
	assert.True(t, errors.As(err, &se))
}
