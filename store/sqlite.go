package store

import (
	"database/sql"
	"errors"
	"time"

	"mentorbot/models"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a reminder row does not exist.
var ErrNotFound = errors.New("store: reminder not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db}
	if err := store.init(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reminders (
		post_id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		due_date TEXT NOT NULL,
		content TEXT NOT NULL,
		completed BOOLEAN,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_reminders_completed ON reminders(completed);
	CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(due_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Reminder operations

// UpsertReminder inserts a reminder row, replacing any existing row with the
// same post id. Rows are never physically deleted.
func (s *Store) UpsertReminder(r *models.Reminder) error {
	r.UpdatedAt = time.Now()
	_, err := s.db.Exec(`
		INSERT INTO reminders (post_id, channel_id, due_date, content, completed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(post_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			due_date = excluded.due_date,
			content = excluded.content,
			completed = excluded.completed,
			updated_at = excluded.updated_at
	`, r.PostID, r.ChannelID, r.DueDate, r.Content, r.Completed, r.UpdatedAt)
	return err
}

func (s *Store) GetReminder(postID string) (*models.Reminder, error) {
	row := s.db.QueryRow(`
		SELECT post_id, channel_id, due_date, content, completed, updated_at
		FROM reminders
		WHERE post_id = ?
	`, postID)

	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListOpenReminders returns every reminder whose completed flag is NULL or
// false, oldest due date first.
func (s *Store) ListOpenReminders() ([]models.Reminder, error) {
	rows, err := s.db.Query(`
		SELECT post_id, channel_id, due_date, content, completed, updated_at
		FROM reminders
		WHERE completed IS NULL OR completed = FALSE
		ORDER BY due_date ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

// ListReminders returns all rows, most recently touched first. Used by the
// ops API.
func (s *Store) ListReminders() ([]models.Reminder, error) {
	rows, err := s.db.Query(`
		SELECT post_id, channel_id, due_date, content, completed, updated_at
		FROM reminders
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

func (s *Store) MarkReminderComplete(postID string) error {
	res, err := s.db.Exec(`
		UPDATE reminders SET completed = TRUE, updated_at = ? WHERE post_id = ?
	`, time.Now(), postID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReminder(row scannable) (*models.Reminder, error) {
	var r models.Reminder
	var completed sql.NullBool
	if err := row.Scan(&r.PostID, &r.ChannelID, &r.DueDate, &r.Content, &completed, &r.UpdatedAt); err != nil {
		return nil, err
	}
	// NULL and false both mean "open"; rows written before the flag existed
	// carry NULL.
	r.Completed = completed.Valid && completed.Bool
	return &r, nil
}
