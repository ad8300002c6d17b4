package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ykvlv/timekeeper/internal/domain"
)

// SQLRepo implements Repo on top of database/sql. The same queries serve
// SQLite and Postgres.
type SQLRepo struct {
	db *sql.DB
	queries
}

// Open connects to the database named by uri, runs the migrations and
// returns a repository. See parseURI for the accepted forms.
func Open(ctx context.Context, uri string) (*SQLRepo, error) {
	d, dsn, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch d.name {
	case postgresDialect.name:
		db, err = openPostgres(ctx, dsn)
	default:
		db, err = openSQLite(ctx, dsn)
	}
	if err != nil {
		return nil, wrap("open "+d.name, err)
	}

	if err := runMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLRepo{db: db, queries: queries{db: db, d: d}}, nil
}

// Close releases the underlying database resources.
func (r *SQLRepo) Close() error {
	return r.db.Close()
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (r *SQLRepo) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&queries{db: tx, d: r.d, inTx: true}); err != nil {
		return err
	}
	return wrap("commit", tx.Commit())
}

// Query runs an arbitrary statement and renders every value as text.
func (r *SQLRepo) Query(ctx context.Context, query string) ([]string, [][]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, wrap("query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, wrap("query columns", err)
	}

	var out [][]string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, wrap("query scan", err)
		}
		line := make([]string, len(cols))
		for i, v := range vals {
			line[i] = formatValue(v)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrap("query rows", err)
	}
	return cols, out, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(domain.DisplayLayout)
	default:
		return fmt.Sprint(x)
	}
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db   dbtx
	d    dialect
	inTx bool
}

const userColumns = `id, name, timezone_id, trackable, created_at`

const attendanceColumns = `id, started_at, finished_at, user_id, created_at`

// attendanceOrder puts the latest start first. Rows without a start sort
// after every started row, on every dialect.
const attendanceOrder = `
		ORDER BY CASE WHEN started_at IS NULL THEN 1 ELSE 0 END,
		         started_at DESC,
		         id DESC`

// GetOrCreateUser inserts the user if the id is unseen and returns the row.
// The primary key makes concurrent calls for one id converge on one row.
func (q *queries) GetOrCreateUser(ctx context.Context, id, defaultTZ string) (*domain.User, bool, error) {
	if id == "" {
		return nil, false, errors.New("empty user id")
	}
	res, err := q.db.ExecContext(ctx, q.d.rebind(`
		INSERT INTO "user" (id, timezone_id, trackable, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		id, defaultTZ, false, time.Now().UTC().Unix(),
	)
	if err != nil {
		return nil, false, wrap("insert user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, wrap("insert user", err)
	}

	u, err := q.GetUser(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return u, n == 1, nil
}

// GetUser returns the user by id. Inside a transaction the row is locked
// where the dialect supports it.
func (q *queries) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM "user" WHERE id = ?`
	if q.inTx {
		query += q.d.forUpdate
	}

	var (
		u         domain.User
		name      sql.NullString
		createdAt int64
	)
	err := q.db.QueryRowContext(ctx, q.d.rebind(query), id).
		Scan(&u.ID, &name, &u.TimezoneID, &u.Trackable, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wrap("get user", ErrNotFound)
		}
		return nil, wrap("get user", err)
	}
	u.Name = fromNullString(name)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// SaveUser persists the mutable user fields.
func (q *queries) SaveUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	res, err := q.db.ExecContext(ctx, q.d.rebind(`
		UPDATE "user"
		SET name = ?, timezone_id = ?, trackable = ?
		WHERE id = ?`),
		toNullString(u.Name), u.TimezoneID, u.Trackable, u.ID,
	)
	return checkAffected("save user", res, err)
}

// ClaimName never fails the surrounding transaction on a name clash: inside
// a transaction the update runs under a savepoint.
func (q *queries) ClaimName(ctx context.Context, id, name string) (bool, error) {
	if q.inTx {
		if _, err := q.db.ExecContext(ctx, `SAVEPOINT claim_name`); err != nil {
			return false, wrap("claim name", err)
		}
	}
	res, err := q.db.ExecContext(ctx, q.d.rebind(`
		UPDATE "user"
		SET name = ?
		WHERE id = ?
		  AND name IS NULL
		  AND NOT EXISTS (SELECT 1 FROM "user" WHERE name = ?)`),
		name, id, name,
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return false, wrap("claim name", err)
		}
		if q.inTx {
			if _, err := q.db.ExecContext(ctx, `ROLLBACK TO SAVEPOINT claim_name`); err != nil {
				return false, wrap("claim name", err)
			}
		}
		return false, nil
	}
	if q.inTx {
		if _, err := q.db.ExecContext(ctx, `RELEASE SAVEPOINT claim_name`); err != nil {
			return false, wrap("claim name", err)
		}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("claim name", err)
	}
	return n == 1, nil
}

func (q *queries) LastAttendance(ctx context.Context, userID string) (*domain.Attendance, error) {
	list, err := q.listAttendances(ctx, "last attendance", `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE user_id = ?`+attendanceOrder+`
		LIMIT 1`, userID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// CreateAttendance inserts a and fills in its ID and CreatedAt.
func (q *queries) CreateAttendance(ctx context.Context, a *domain.Attendance) error {
	if a == nil {
		return errors.New("nil attendance")
	}
	created := time.Now().UTC().Truncate(time.Second)
	err := q.db.QueryRowContext(ctx, q.d.rebind(`
		INSERT INTO attendance (started_at, finished_at, user_id, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`),
		toNullInt64(a.StartedAt), toNullInt64(a.FinishedAt), a.UserID, created.Unix(),
	).Scan(&a.ID)
	if err != nil {
		return wrap("insert attendance", err)
	}
	a.CreatedAt = created
	return nil
}

// SaveAttendance writes both instants of an existing row.
func (q *queries) SaveAttendance(ctx context.Context, a *domain.Attendance) error {
	if a == nil {
		return errors.New("nil attendance")
	}
	res, err := q.db.ExecContext(ctx, q.d.rebind(`
		UPDATE attendance
		SET started_at = ?, finished_at = ?
		WHERE id = ?`),
		toNullInt64(a.StartedAt), toNullInt64(a.FinishedAt), a.ID,
	)
	return checkAffected("save attendance", res, err)
}

// ListAttendances returns up to limit rows, latest start first.
// A limit <= 0 returns every row.
func (q *queries) ListAttendances(ctx context.Context, userID string, limit int) ([]domain.Attendance, error) {
	query := `
		SELECT ` + attendanceColumns + `
		FROM attendance
		WHERE user_id = ?` + attendanceOrder
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return q.listAttendances(ctx, "list attendances", query, args...)
}

func (q *queries) CountAttendances(ctx context.Context, userID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, q.d.rebind(`SELECT COUNT(*) FROM attendance WHERE user_id = ?`), userID).Scan(&n)
	if err != nil {
		return 0, wrap("count attendances", err)
	}
	return n, nil
}

// DailyAttendances aggregates the user's complete sessions per UTC date,
// newest first. A limit <= 0 returns every day.
func (q *queries) DailyAttendances(ctx context.Context, userID string, limit int) ([]domain.DailyAttendance, error) {
	complete, err := q.listAttendances(ctx, "daily attendances", `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE user_id = ?
		  AND started_at IS NOT NULL
		  AND finished_at IS NOT NULL
		ORDER BY started_at`, userID)
	if err != nil {
		return nil, err
	}
	days := domain.AggregateDaily(complete)
	if limit > 0 && len(days) > limit {
		days = days[:limit]
	}
	return days, nil
}

func (q *queries) listAttendances(ctx context.Context, op, query string, args ...any) ([]domain.Attendance, error) {
	rows, err := q.db.QueryContext(ctx, q.d.rebind(query), args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var res []domain.Attendance
	for rows.Next() {
		var (
			a         domain.Attendance
			started   sql.NullInt64
			finished  sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &started, &finished, &a.UserID, &createdAt); err != nil {
			return nil, wrap(op, err)
		}
		a.StartedAt = fromNullInt64(started)
		a.FinishedAt = fromNullInt64(finished)
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return res, nil
}

func checkAffected(op string, res sql.Result, err error) error {
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return wrap(op, ErrNotFound)
	}
	return nil
}
