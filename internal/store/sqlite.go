package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"remindd/internal/domain"
)

var ErrNotFound = errors.New("not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL CHECK(status IN ('todo','in_progress','done','complete')) DEFAULT 'todo',
  start_date DATETIME NOT NULL,
  end_date DATETIME NOT NULL,
  owner_id TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, end_date);
CREATE TABLE IF NOT EXISTS device_tokens (
  user_id TEXT NOT NULL,
  token TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (user_id, token)
);
CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  recipient_id TEXT NOT NULL,
  title TEXT NOT NULL,
  body TEXT NOT NULL,
  type TEXT NOT NULL CHECK(type IN ('info','alert','promotion','reminder')) DEFAULT 'info',
  data TEXT NOT NULL DEFAULT '{}',
  is_delivered INTEGER NOT NULL DEFAULT 0,
  delivered_at DATETIME,
  is_read INTEGER NOT NULL DEFAULT 0,
  read_at DATETIME,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at DESC);
`
	_, err := db.Exec(schema)
	return err
}

// TaskStore is the task persistence surface the engine depends on. The
// surrounding CRUD layer owns task writes; the engine reads tasks, corrects
// overdue status, and queries upcoming work for reconciliation.
type TaskStore interface {
	Create(ctx context.Context, t domain.Task) (string, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	Update(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id string) error

	// SetStatus updates a single task's status and returns the fresh task.
	SetStatus(ctx context.Context, id string, status domain.TaskStatus) (domain.Task, error)
	// FindUpcoming returns every non-terminal task with end_date after t.
	FindUpcoming(ctx context.Context, t time.Time) ([]domain.Task, error)
	// CompleteOverdue bulk-transitions non-terminal tasks with end_date
	// before t to complete, returning the number of rows changed.
	CompleteOverdue(ctx context.Context, t time.Time) (int64, error)
}

// DeviceDirectory resolves users to their registered push tokens.
type DeviceDirectory interface {
	RegisterDevice(ctx context.Context, userID, token string) error
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
	DeviceTokensForMany(ctx context.Context, userIDs []string) (map[string][]string, error)
}

// NotificationStore is append-only delivery history.
type NotificationStore interface {
	Append(ctx context.Context, rec domain.NotificationRecord) error
	ListRecent(ctx context.Context, recipientID string, limit int) ([]domain.NotificationRecord, error)
	MarkRead(ctx context.Context, id string) error
}

type sqliteStore struct{ db *sql.DB }

// NewSQLiteStore returns SQLite-backed implementations of all three store
// interfaces over one shared connection.
func NewSQLiteStore(db *sql.DB) *SQLite { return &SQLite{sqliteStore{db: db}} }

// SQLite bundles the store interfaces over a single database.
type SQLite struct{ sqliteStore }

var (
	_ TaskStore         = (*SQLite)(nil)
	_ DeviceDirectory   = (*SQLite)(nil)
	_ NotificationStore = (*SQLite)(nil)
)

func (r *sqliteStore) Create(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.StatusTodo
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (id,title,description,status,start_date,end_date,owner_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, t.Title, t.Description, t.Status, t.StartDate, t.EndDate, t.OwnerID)
	return id, err
}

func (r *sqliteStore) Get(ctx context.Context, id string) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,title,description,status,start_date,end_date,owner_id,created_at,updated_at
FROM tasks WHERE id=?`, id)
	return scanTask(row)
}

func (r *sqliteStore) Update(ctx context.Context, t domain.Task) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET title=?,description=?,status=?,start_date=?,end_date=?,updated_at=CURRENT_TIMESTAMP
WHERE id=?`, t.Title, t.Description, t.Status, t.StartDate, t.EndDate, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteStore) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	return err
}

func (r *sqliteStore) SetStatus(ctx context.Context, id string, status domain.TaskStatus) (domain.Task, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET status=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, status, id)
	if err != nil {
		return domain.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Task{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *sqliteStore) FindUpcoming(ctx context.Context, t time.Time) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,title,description,status,start_date,end_date,owner_id,created_at,updated_at
FROM tasks
WHERE end_date > ? AND status NOT IN ('done','complete')
ORDER BY end_date`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *sqliteStore) CompleteOverdue(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET status='complete', updated_at=CURRENT_TIMESTAMP
WHERE end_date < ? AND status NOT IN ('done','complete')`, t)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sqliteStore) RegisterDevice(ctx context.Context, userID, token string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO device_tokens (user_id, token) VALUES (?,?)
ON CONFLICT(user_id, token) DO NOTHING`, userID, token)
	return err
}

func (r *sqliteStore) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT token FROM device_tokens WHERE user_id=? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

func (r *sqliteStore) DeviceTokensForMany(ctx context.Context, userIDs []string) (map[string][]string, error) {
	if len(userIDs) == 0 {
		return map[string][]string{}, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	q := `SELECT user_id, token FROM device_tokens WHERE user_id IN (?` +
		strings.Repeat(",?", len(userIDs)-1) + `) ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var uid, tok string
		if err := rows.Scan(&uid, &tok); err != nil {
			return nil, err
		}
		out[uid] = append(out[uid], tok)
	}
	return out, rows.Err()
}

func (r *sqliteStore) Append(ctx context.Context, rec domain.NotificationRecord) error {
	id := rec.ID
	if id == "" {
		id = "ntf_" + uuid.NewString()
	}
	if rec.Type == "" {
		rec.Type = domain.TypeInfo
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notifications (id,recipient_id,title,body,type,data,is_delivered,delivered_at,created_at)
VALUES (?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
`, id, rec.RecipientID, rec.Title, rec.Body, rec.Type, encodeData(rec.Data), rec.IsDelivered, rec.DeliveredAt)
	return err
}

func (r *sqliteStore) ListRecent(ctx context.Context, recipientID string, limit int) ([]domain.NotificationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,recipient_id,title,body,type,data,is_delivered,delivered_at,is_read,read_at,created_at
FROM notifications WHERE recipient_id=? ORDER BY created_at DESC LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.NotificationRecord
	for rows.Next() {
		var rec domain.NotificationRecord
		var data string
		var delivered, read sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.RecipientID, &rec.Title, &rec.Body, &rec.Type,
			&data, &rec.IsDelivered, &delivered, &rec.IsRead, &read, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Data = decodeData(data)
		if delivered.Valid {
			rec.DeliveredAt = &delivered.Time
		}
		if read.Valid {
			rec.ReadAt = &read.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *sqliteStore) MarkRead(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE notifications SET is_read=1, read_at=CURRENT_TIMESTAMP WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface{ Scan(dest ...any) error }

func scanTask(row scannable) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status,
		&t.StartDate, &t.EndDate, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}
