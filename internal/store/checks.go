package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sitewatch/monitor/internal/model"
)

// InsertCheckTx appends one immutable check row inside an open write
// transaction and assigns its ID.
func InsertCheckTx(tx *sql.Tx, c *model.Check) error {
	var code any
	if c.HTTPStatusCode != nil {
		code = *c.HTTPStatusCode
	}
	res, err := tx.Exec(`
INSERT INTO checks (target_id, ts_utc, tcp_ok, http_ok, http_status_code,
                    tcp_latency_ms, http_latency_ms, final_url, used_ip,
                    detected_login_type, login_detected, summary)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TargetID, fmtTime(c.TimestampUTC), c.TCPOk, c.HTTPOk, code,
		c.TCPLatencyMs, c.HTTPLatencyMs, c.FinalURL, c.UsedIP,
		c.DetectedLoginType, c.LoginDetected, c.Summary)
	if err != nil {
		return fmt.Errorf("store: insert check for target %d: %w", c.TargetID, err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// stateColumns is the canonical select list for state rows.
const stateColumns = `
target_id, is_up, last_check_utc, state_since_utc, last_change_utc,
consecutive_failures, last_summary, last_final_url, last_used_ip,
last_detected_login_type, login_detected_last, login_detected_ever,
down_first_notified_utc, last_notified_utc, next_notify_utc,
recovered_due_utc, recovered_notified_utc`

// GetStatesTx loads the state rows for the given target ids in one query,
// keyed by target id. Missing rows are simply absent from the map.
func GetStatesTx(tx *sql.Tx, targetIDs []int64) (map[int64]*model.TargetState, error) {
	out := make(map[int64]*model.TargetState, len(targetIDs))
	if len(targetIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(targetIDs)), ",")
	args := make([]any, len(targetIDs))
	for i, id := range targetIDs {
		args[i] = id
	}
	rows, err := tx.Query(`SELECT `+stateColumns+` FROM state WHERE target_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: load states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out[st.TargetID] = st
	}
	return out, rows.Err()
}

// UpsertStateTx writes the full state row inside an open write transaction,
// inserting it when the target has never been checked before.
func UpsertStateTx(tx *sql.Tx, st *model.TargetState) error {
	_, err := tx.Exec(`
INSERT INTO state (target_id, is_up, last_check_utc, state_since_utc, last_change_utc,
                   consecutive_failures, last_summary, last_final_url, last_used_ip,
                   last_detected_login_type, login_detected_last, login_detected_ever,
                   down_first_notified_utc, last_notified_utc, next_notify_utc,
                   recovered_due_utc, recovered_notified_utc)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (target_id) DO UPDATE SET
    is_up                    = excluded.is_up,
    last_check_utc           = excluded.last_check_utc,
    state_since_utc          = excluded.state_since_utc,
    last_change_utc          = excluded.last_change_utc,
    consecutive_failures     = excluded.consecutive_failures,
    last_summary             = excluded.last_summary,
    last_final_url           = excluded.last_final_url,
    last_used_ip             = excluded.last_used_ip,
    last_detected_login_type = excluded.last_detected_login_type,
    login_detected_last      = excluded.login_detected_last,
    login_detected_ever      = excluded.login_detected_ever,
    down_first_notified_utc  = excluded.down_first_notified_utc,
    last_notified_utc        = excluded.last_notified_utc,
    next_notify_utc          = excluded.next_notify_utc,
    recovered_due_utc        = excluded.recovered_due_utc,
    recovered_notified_utc   = excluded.recovered_notified_utc`,
		st.TargetID, st.IsUp, fmtTime(st.LastCheckUTC), fmtTime(st.StateSinceUTC), fmtTime(st.LastChangeUTC),
		st.ConsecutiveFailures, st.LastSummary, st.LastFinalURL, st.LastUsedIP,
		st.LastDetectedLoginType, st.LoginDetectedLast, st.LoginDetectedEver,
		fmtTimePtr(st.DownFirstNotifiedUTC), fmtTimePtr(st.LastNotifiedUTC), fmtTimePtr(st.NextNotifyUTC),
		fmtTimePtr(st.RecoveredDueUTC), fmtTimePtr(st.RecoveredNotifiedUTC))
	if err != nil {
		return fmt.Errorf("store: upsert state for target %d: %w", st.TargetID, err)
	}
	return nil
}

// GetState returns the state row for one target, or (nil, nil) when the
// target has never been checked.
func (s *Store) GetState(ctx context.Context, targetID int64) (*model.TargetState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM state WHERE target_id = ?`, targetID)
	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// ListStates returns the state rows for all of the instance's targets,
// ordered by target id. Used by the alert evaluator and the API projection.
func (s *Store) ListStates(ctx context.Context, instanceID string) ([]*model.TargetState, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+stateColumns+`
FROM state
WHERE target_id IN (SELECT id FROM targets WHERE instance_id = ?)
ORDER BY target_id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("store: list states for %q: %w", instanceID, err)
	}
	defer rows.Close()

	var out []*model.TargetState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanState(sc scanner) (*model.TargetState, error) {
	var st model.TargetState
	var lastCheck, stateSince, lastChange string
	var downFirst, lastNotified, nextNotify, recoveredDue, recoveredNotified sql.NullString
	if err := sc.Scan(&st.TargetID, &st.IsUp, &lastCheck, &stateSince, &lastChange,
		&st.ConsecutiveFailures, &st.LastSummary, &st.LastFinalURL, &st.LastUsedIP,
		&st.LastDetectedLoginType, &st.LoginDetectedLast, &st.LoginDetectedEver,
		&downFirst, &lastNotified, &nextNotify, &recoveredDue, &recoveredNotified); err != nil {
		return nil, err
	}
	var err error
	if st.LastCheckUTC, err = parseTime(lastCheck); err != nil {
		return nil, err
	}
	if st.StateSinceUTC, err = parseTime(stateSince); err != nil {
		return nil, err
	}
	if st.LastChangeUTC, err = parseTime(lastChange); err != nil {
		return nil, err
	}
	if st.DownFirstNotifiedUTC, err = parseTimePtr(downFirst); err != nil {
		return nil, err
	}
	if st.LastNotifiedUTC, err = parseTimePtr(lastNotified); err != nil {
		return nil, err
	}
	if st.NextNotifyUTC, err = parseTimePtr(nextNotify); err != nil {
		return nil, err
	}
	if st.RecoveredDueUTC, err = parseTimePtr(recoveredDue); err != nil {
		return nil, err
	}
	if st.RecoveredNotifiedUTC, err = parseTimePtr(recoveredNotified); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListChecks returns the most recent check rows for a target, newest first.
func (s *Store) ListChecks(ctx context.Context, targetID int64, limit int) ([]*model.Check, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, target_id, ts_utc, tcp_ok, http_ok, http_status_code,
       tcp_latency_ms, http_latency_ms, final_url, used_ip,
       detected_login_type, login_detected, summary
FROM checks WHERE target_id = ? ORDER BY ts_utc DESC LIMIT ?`, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list checks for target %d: %w", targetID, err)
	}
	defer rows.Close()

	var out []*model.Check
	for rows.Next() {
		var (
			c    model.Check
			ts   string
			code sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.TargetID, &ts, &c.TCPOk, &c.HTTPOk, &code,
			&c.TCPLatencyMs, &c.HTTPLatencyMs, &c.FinalURL, &c.UsedIP,
			&c.DetectedLoginType, &c.LoginDetected, &c.Summary); err != nil {
			return nil, err
		}
		if c.TimestampUTC, err = parseTime(ts); err != nil {
			return nil, err
		}
		if code.Valid {
			v := int(code.Int64)
			c.HTTPStatusCode = &v
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// AppendEventTx appends one audit event inside an open write transaction.
func AppendEventTx(tx *sql.Tx, ev *model.Event) error {
	if ev.TimestampUTC.IsZero() {
		ev.TimestampUTC = time.Now().UTC()
	}
	var targetID any
	if ev.TargetID != nil {
		targetID = *ev.TargetID
	}
	res, err := tx.Exec(`
INSERT INTO events (instance_id, target_id, ts_utc, type, message)
VALUES (?, ?, ?, ?, ?)`,
		ev.InstanceID, targetID, fmtTime(ev.TimestampUTC), string(ev.Type), ev.Message)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	ev.ID, err = res.LastInsertId()
	return err
}

// AppendEvent appends one audit event in its own write transaction.
func (s *Store) AppendEvent(ctx context.Context, ev *model.Event) error {
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return AppendEventTx(tx, ev)
	})
}

// ListEvents returns the instance's audit events, newest first.
func (s *Store) ListEvents(ctx context.Context, instanceID string, limit, offset int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, instance_id, target_id, ts_utc, type, message
FROM events WHERE instance_id = ?
ORDER BY ts_utc DESC, id DESC LIMIT ? OFFSET ?`, instanceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list events for %q: %w", instanceID, err)
	}
	defer rows.Close()

	var out []*model.Event
	for rows.Next() {
		var (
			ev       model.Event
			ts       string
			targetID sql.NullInt64
			typ      string
		)
		if err := rows.Scan(&ev.ID, &ev.InstanceID, &targetID, &ts, &typ, &ev.Message); err != nil {
			return nil, err
		}
		if ev.TimestampUTC, err = parseTime(ts); err != nil {
			return nil, err
		}
		if targetID.Valid {
			v := targetID.Int64
			ev.TargetID = &v
		}
		ev.Type = model.EventType(typ)
		out = append(out, &ev)
	}
	return out, rows.Err()
}
