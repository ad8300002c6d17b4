// Package timekeeper turns user events into attendance records and reports.
package timekeeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ykvlv/timekeeper/assets"
	"github.com/ykvlv/timekeeper/internal/domain"
	"github.com/ykvlv/timekeeper/internal/report"
	"github.com/ykvlv/timekeeper/internal/store"
)

// Identity is the sender of an event as reported by the chat platform.
type Identity struct {
	ID   string // empty when the sender is unknown
	Name string // platform username, may be empty
}

// File is a generated attachment.
type File struct {
	Name    string
	Data    []byte
	Comment string
	Text    bool
}

// Reply is what the transport should deliver for one event.
type Reply struct {
	Ack      bool     // acknowledge the message (stopwatch)
	Messages []string // texts, in order
	File     *File
}

// Empty reports whether there is nothing to deliver.
func (r Reply) Empty() bool {
	return !r.Ack && len(r.Messages) == 0 && r.File == nil
}

func text(s string) Reply { return Reply{Messages: []string{s}} }

// Options configure a Service.
type Options struct {
	DefaultTZ      string
	TimesheetLimit int  // rows per timesheet; <= 0 means all
	Debug          bool // enables the raw SQL console; insecure
}

// Service handles the inbound events of the bot.
type Service struct {
	repo store.Repo
	log  *zap.Logger
	opts Options
	now  func() time.Time
}

// New creates a Service.
func New(repo store.Repo, log *zap.Logger, opts Options) *Service {
	if opts.DefaultTZ == "" {
		opts.DefaultTZ = "UTC"
	}
	return &Service{
		repo: repo,
		log:  log,
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// loadUser resolves the event's user inside q, creating the row on first
// contact and backfilling the display name when nobody else holds it.
func (s *Service) loadUser(ctx context.Context, q store.Queries, id Identity) (*domain.User, error) {
	u, created, err := q.GetOrCreateUser(ctx, id.ID, s.opts.DefaultTZ)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("user created", zap.String("user", u.ID))
	}
	if u.Name == nil && id.Name != "" {
		claimed, err := q.ClaimName(ctx, u.ID, id.Name)
		if err != nil {
			return nil, err
		}
		if claimed {
			name := id.Name
			u.Name = &name
		} else {
			s.log.Warn("user name taken", zap.String("user", u.ID), zap.String("name", id.Name))
		}
	}
	return u, nil
}

// withUser runs fn with the event's user in one transaction.
func (s *Service) withUser(ctx context.Context, id Identity, fn func(q store.Queries, u *domain.User) error) error {
	return s.repo.InTx(ctx, func(q store.Queries) error {
		u, err := s.loadUser(ctx, q, id)
		if err != nil {
			return err
		}
		return fn(q, u)
	})
}

// StartWorking records a new session starting at now. It never closes a
// dangling session; it only warns about it.
func (s *Service) StartWorking(ctx context.Context, id Identity, now time.Time) (Reply, error) {
	if id.ID == "" {
		return Reply{}, nil
	}
	now = now.UTC()

	var reply Reply
	err := s.withUser(ctx, id, func(q store.Queries, u *domain.User) error {
		if !u.Trackable {
			return nil
		}
		last, err := q.LastAttendance(ctx, u.ID)
		if err != nil {
			return err
		}
		hadUnfinished := last != nil && last.FinishedAt == nil

		a := &domain.Attendance{UserID: u.ID, StartedAt: &now}
		if err := q.CreateAttendance(ctx, a); err != nil {
			return err
		}

		reply.Ack = true
		if hadUnfinished {
			s.log.Info("start without finish", zap.String("user", u.ID), zap.Int64("previous", last.ID))
			reply.Messages = append(reply.Messages, missedFinishText)
		}
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// FinishWorking closes the last open session at now, or records a
// finish-only session when there is none.
func (s *Service) FinishWorking(ctx context.Context, id Identity, now time.Time) (Reply, error) {
	if id.ID == "" {
		return Reply{}, nil
	}
	now = now.UTC()

	var reply Reply
	err := s.withUser(ctx, id, func(q store.Queries, u *domain.User) error {
		if !u.Trackable {
			return nil
		}
		a, err := q.LastAttendance(ctx, u.ID)
		if err != nil {
			return err
		}

		if a == nil || a.FinishedAt != nil {
			a = &domain.Attendance{UserID: u.ID, FinishedAt: &now}
			err = q.CreateAttendance(ctx, a)
		} else {
			a.FinishedAt = &now
			err = q.SaveAttendance(ctx, a)
		}
		if err != nil {
			return err
		}

		reply.Ack = true
		if a.StartedAt == nil {
			s.log.Info("finish without start", zap.String("user", u.ID), zap.Int64("attendance", a.ID))
			reply.Messages = append(reply.Messages, missedStartText)
		}
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// OptIn starts tracking the user.
func (s *Service) OptIn(ctx context.Context, id Identity) (Reply, error) {
	return s.setTrackable(ctx, id, true)
}

// OptOut stops tracking the user. Existing rows are kept.
func (s *Service) OptOut(ctx context.Context, id Identity) (Reply, error) {
	return s.setTrackable(ctx, id, false)
}

func (s *Service) setTrackable(ctx context.Context, id Identity, trackable bool) (Reply, error) {
	if id.ID == "" {
		return Reply{}, nil
	}
	var reply Reply
	err := s.withUser(ctx, id, func(q store.Queries, u *domain.User) error {
		if u.Trackable == trackable {
			if trackable {
				reply = text(alreadyTrackingText)
			} else {
				reply = text(notTrackingText)
			}
			return nil
		}
		u.Trackable = trackable
		if err := q.SaveUser(ctx, u); err != nil {
			return err
		}
		if trackable {
			reply = text(trackingText)
		} else {
			reply = text(untrackedText)
		}
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// SetTimezone changes the user's display zone. Unknown names leave the
// user untouched.
func (s *Service) SetTimezone(ctx context.Context, id Identity, zone string) (Reply, error) {
	if id.ID == "" {
		return Reply{}, nil
	}
	tz, err := domain.ValidateTZ(zone)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTimezone) {
			return text(unknownTimezoneText), nil
		}
		return Reply{}, err
	}

	err = s.withUser(ctx, id, func(q store.Queries, u *domain.User) error {
		u.TimezoneID = tz
		return q.SaveUser(ctx, u)
	})
	if err != nil {
		return Reply{}, err
	}
	return text(timezoneUpdatedText), nil
}

// ensureUser creates the user on first contact, outside of any other work.
func (s *Service) ensureUser(ctx context.Context, id Identity) (*domain.User, error) {
	var user *domain.User
	err := s.withUser(ctx, id, func(_ store.Queries, u *domain.User) error {
		user = u
		return nil
	})
	return user, err
}

// location resolves the user's zone, falling back to UTC for a zone the
// host no longer knows.
func (s *Service) location(u *domain.User) *time.Location {
	loc, err := u.Location()
	if err != nil {
		s.log.Warn("bad stored timezone", zap.String("user", u.ID), zap.String("tz", u.TimezoneID), zap.Error(err))
		return time.UTC
	}
	return loc
}

// Timesheet renders the user's latest sessions, newest first.
func (s *Service) Timesheet(ctx context.Context, id Identity) (Reply, error) {
	if id.ID == "" {
		return Reply{}, nil
	}
	u, err := s.ensureUser(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	attendances, err := s.repo.ListAttendances(ctx, u.ID, s.opts.TimesheetLimit)
	if err != nil {
		return Reply{}, err
	}
	if len(attendances) == 0 {
		return text(noTimesheetText), nil
	}

	sheet := report.RenderTimesheet(attendances, s.location(u))
	return Reply{File: &File{
		Name:    timesheetFile,
		Data:    []byte(sheet),
		Comment: timesheetComment,
		Text:    true,
	}}, nil
}

// DailyTimesheet renders the user's latest days, newest first.
func (s *Service) DailyTimesheet(ctx context.Context, id Identity) (Reply, error) {
	if id.ID == "" {
		return Reply{}, nil
	}
	u, err := s.ensureUser(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	days, err := s.repo.DailyAttendances(ctx, u.ID, s.opts.TimesheetLimit)
	if err != nil {
		return Reply{}, err
	}
	if len(days) == 0 {
		return text(noDailyTimesheetText), nil
	}

	sheet := report.RenderDailyTimesheet(days, s.location(u))
	return Reply{File: &File{
		Name:    dailyTimesheetFile,
		Data:    []byte(sheet),
		Comment: dailyTimesheetComment,
		Text:    true,
	}}, nil
}

// Contributions draws the calendar heatmap of the user's daily ratio series.
// Days are UTC dates regardless of the user's zone.
func (s *Service) Contributions(ctx context.Context, id Identity) (Reply, error) {
	if id.ID == "" {
		return Reply{}, nil
	}
	u, err := s.ensureUser(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	n, err := s.repo.CountAttendances(ctx, u.ID)
	if err != nil {
		return Reply{}, err
	}
	if n == 0 {
		return text(noTimesheetText), nil
	}

	days, err := s.repo.DailyAttendances(ctx, u.ID, 0)
	if err != nil {
		return Reply{}, err
	}
	series := domain.WorkingTimeRatioSeries(days)
	year := report.LatestYear(series, s.now().Year())
	png, err := report.RenderContributionFigure(series, year)
	if err != nil {
		return Reply{}, err
	}

	return Reply{
		Messages: []string{waitText},
		File: &File{
			Name:    contributionsFile,
			Data:    png,
			Comment: contributionsComment,
		},
	}, nil
}

// Help returns the usage text.
func (s *Service) Help() Reply {
	return text(assets.Help)
}

// Debug runs query against the database when the debug console is enabled.
// It executes arbitrary SQL and must never be enabled where users are not
// trusted.
func (s *Service) Debug(ctx context.Context, query string) (Reply, error) {
	if !s.opts.Debug {
		return text(DefaultReply), nil
	}
	s.log.Warn("debug query", zap.String("query", query))

	cols, rows, err := s.repo.Query(ctx, query)
	if err != nil {
		return text(err.Error()), nil
	}
	columns := make([]report.Column, len(cols))
	for i, c := range cols {
		columns[i] = report.Column{Header: c}
	}
	return text(report.RenderTable(columns, rows)), nil
}
