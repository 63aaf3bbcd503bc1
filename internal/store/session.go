package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps List when no positive limit is given.
const DefaultListLimit = 50

// Session summarises one run of the pipeline.
type Session struct {
	ID          string     `json:"id"`
	CameraID    int        `json:"camera_id"`
	ModelPath   string     `json:"model_path"`
	ModelStatus string     `json:"model_status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Frames      uint64     `json:"frames"`
	Dropped     uint64     `json:"dropped"`
	Predictions uint64     `json:"predictions"`
	Errors      uint64     `json:"errors"`
}

// Counters are the final totals recorded when a session ends.
type Counters struct {
	Frames      uint64
	Dropped     uint64
	Predictions uint64
	Errors      uint64
}

// SessionRepository reads and writes sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts sess, assigning an ID and start time when they are unset.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	if sess.ModelStatus == "" {
		sess.ModelStatus = "loading"
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, camera_id, model_path, model_status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.CameraID, sess.ModelPath, sess.ModelStatus, sess.StartedAt,
	)
	return err
}

// Finish records the end time, final model status and counters.
func (r *SessionRepository) Finish(id, modelStatus string, c Counters) error {
	result, err := r.db.Exec(
		`UPDATE sessions
		 SET ended_at = ?, model_status = ?, frames = ?, dropped = ?, predictions = ?, errors = ?
		 WHERE id = ?`,
		time.Now().UTC(), modelStatus, c.Frames, c.Dropped, c.Predictions, c.Errors, id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `id, camera_id, model_path, model_status, started_at, ended_at,
	frames, dropped, predictions, errors`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var ended sql.NullTime

	err := row.Scan(
		&sess.ID, &sess.CameraID, &sess.ModelPath, &sess.ModelStatus, &sess.StartedAt, &ended,
		&sess.Frames, &sess.Dropped, &sess.Predictions, &sess.Errors,
	)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List returns the most recent sessions first.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
