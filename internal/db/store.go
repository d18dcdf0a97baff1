package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/aimtrack/internal/controller"
	"github.com/banshee-data/aimtrack/internal/geometry"
)

// SessionInfo describes the process that owns a session.
type SessionInfo struct {
	Version  string `json:"version"`
	Port     string `json:"port"`
	Detector string `json:"detector"`
}

// Session is one run of the tracker.
type Session struct {
	ID        string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	SessionInfo
	Emissions int `json:"emissions"`
	Errors    int `json:"errors"`
}

// ModeChange is a stored controller mode transition.
type ModeChange struct {
	At   time.Time       `json:"at"`
	From controller.Mode `json:"from"`
	To   controller.Mode `json:"to"`
}

// CycleError is a stored failed control cycle.
type CycleError struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

func toMillis(t time.Time) int64     { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// StartSession inserts a new session and returns its id.
func (db *DB) StartSession(info SessionInfo, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, version, port, detector) VALUES (?, ?, ?, ?, ?)`,
		id, toMillis(at), info.Version, info.Port, info.Detector,
	)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session end time.
func (db *DB) EndSession(id string, at time.Time) error {
	res, err := db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

func (db *DB) InsertModeChange(session string, from, to controller.Mode, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO mode_changes (session_id, at, from_mode, to_mode) VALUES (?, ?, ?, ?)`,
		session, toMillis(at), from.String(), to.String(),
	)
	return err
}

func (db *DB) InsertEmission(session string, e controller.Emission) error {
	var ellipse sql.NullString
	if e.Ellipse != nil {
		b, err := json.Marshal(e.Ellipse)
		if err != nil {
			return err
		}
		ellipse = sql.NullString{String: string(b), Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO emissions (session_id, at, mode, x, y, center_x, center_y, radius, phase, ellipse_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, toMillis(e.At), e.Mode.String(), e.Point.X, e.Point.Y,
		e.Center.X, e.Center.Y, e.Radius, e.Phase, ellipse,
	)
	return err
}

// ErrorKind classifies a cycle error by its sentinel.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, controller.ErrDetector):
		return "detector"
	case errors.Is(err, controller.ErrTransport):
		return "transport"
	case errors.Is(err, controller.ErrCyclePanic):
		return "panic"
	default:
		return "other"
	}
}

func (db *DB) InsertCycleError(session string, cycleErr error, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO cycle_errors (session_id, at, kind, message) VALUES (?, ?, ?, ?)`,
		session, toMillis(at), ErrorKind(cycleErr), cycleErr.Error(),
	)
	return err
}

// Sessions returns the most recent sessions, newest first, with their
// emission and error counts.
func (db *DB) Sessions(limit int) ([]Session, error) {
	rows, err := db.Query(`
		SELECT s.session_id, s.started_at, s.ended_at, s.version, s.port, s.detector,
			(SELECT COUNT(*) FROM emissions e WHERE e.session_id = s.session_id),
			(SELECT COUNT(*) FROM cycle_errors c WHERE c.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &started, &ended, &s.Version, &s.Port, &s.Detector, &s.Emissions, &s.Errors); err != nil {
			return nil, err
		}
		s.StartedAt = fromMillis(started)
		if ended.Valid {
			t := fromMillis(ended.Int64)
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Emissions returns up to limit emissions for a session, newest first.
func (db *DB) Emissions(session string, limit int) ([]controller.Emission, error) {
	rows, err := db.Query(`
		SELECT at, mode, x, y, center_x, center_y, radius, phase, ellipse_json
		FROM emissions WHERE session_id = ?
		ORDER BY at DESC, id DESC LIMIT ?`, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []controller.Emission
	for rows.Next() {
		var (
			e       controller.Emission
			at      int64
			mode    string
			ellipse sql.NullString
		)
		if err := rows.Scan(&at, &mode, &e.Point.X, &e.Point.Y, &e.Center.X, &e.Center.Y, &e.Radius, &e.Phase, &ellipse); err != nil {
			return nil, err
		}
		e.At = fromMillis(at)
		if e.Mode, err = controller.ParseMode(mode); err != nil {
			return nil, err
		}
		if ellipse.Valid {
			var p geometry.EllipseParams
			if err := json.Unmarshal([]byte(ellipse.String), &p); err != nil {
				return nil, fmt.Errorf("decode ellipse: %w", err)
			}
			e.Ellipse = &p
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ModeChanges returns a session's mode transitions in order.
func (db *DB) ModeChanges(session string) ([]ModeChange, error) {
	rows, err := db.Query(`SELECT at, from_mode, to_mode FROM mode_changes WHERE session_id = ? ORDER BY id`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModeChange
	for rows.Next() {
		var (
			at       int64
			from, to string
			mc       ModeChange
		)
		if err := rows.Scan(&at, &from, &to); err != nil {
			return nil, err
		}
		mc.At = fromMillis(at)
		if mc.From, err = controller.ParseMode(from); err != nil {
			return nil, err
		}
		if mc.To, err = controller.ParseMode(to); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// CycleErrors returns up to limit errors for a session, newest first.
func (db *DB) CycleErrors(session string, limit int) ([]CycleError, error) {
	rows, err := db.Query(`SELECT at, kind, message FROM cycle_errors WHERE session_id = ? ORDER BY at DESC, id DESC LIMIT ?`, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleError
	for rows.Next() {
		var (
			ce CycleError
			at int64
		)
		if err := rows.Scan(&at, &ce.Kind, &ce.Message); err != nil {
			return nil, err
		}
		ce.At = fromMillis(at)
		out = append(out, ce)
	}
	return out, rows.Err()
}
