package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sitewatch/monitor/internal/model"
)

// instanceIDPattern validates instance slugs: 1-64 chars of [a-z0-9-].
var instanceIDPattern = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// ErrInvalidInstanceID is returned by CreateInstance for malformed slugs.
var ErrInvalidInstanceID = errors.New("store: instance id must be 1-64 chars of [a-z0-9-]")

// CreateInstance inserts a new monitoring instance. The CreatedUTC field is
// set to now when zero.
func (s *Store) CreateInstance(ctx context.Context, inst *model.Instance) error {
	if !instanceIDPattern.MatchString(inst.ID) {
		return ErrInvalidInstanceID
	}
	if inst.CheckIntervalSeconds < model.MinCheckIntervalSeconds {
		return fmt.Errorf("store: instance %q: check interval %ds is below the minimum %ds",
			inst.ID, inst.CheckIntervalSeconds, model.MinCheckIntervalSeconds)
	}
	if inst.ConcurrencyLimit < model.MinConcurrencyLimit {
		return fmt.Errorf("store: instance %q: concurrency limit must be at least %d",
			inst.ID, model.MinConcurrencyLimit)
	}
	if inst.CreatedUTC.IsZero() {
		inst.CreatedUTC = time.Now().UTC()
	}
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO instances (id, display_name, enabled, paused, paused_until_utc,
                       check_interval_seconds, concurrency_limit, time_zone_id, created_utc)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID, inst.DisplayName, inst.Enabled, inst.Paused, fmtTimePtr(inst.PausedUntilUTC),
			inst.CheckIntervalSeconds, inst.ConcurrencyLimit, inst.TimeZoneID, fmtTime(inst.CreatedUTC))
		return err
	})
}

// GetInstance returns the instance with the given id, or (nil, nil) when it
// does not exist.
func (s *Store) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, display_name, enabled, paused, paused_until_utc,
       check_interval_seconds, concurrency_limit, time_zone_id, created_utc
FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return inst, err
}

// ListEnabledInstances returns all instances with enabled = true, ordered by
// id. Used by the auto-start component on boot.
func (s *Store) ListEnabledInstances(ctx context.Context) ([]*model.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, display_name, enabled, paused, paused_until_utc,
       check_interval_seconds, concurrency_limit, time_zone_id, created_utc
FROM instances WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled instances: %w", err)
	}
	defer rows.Close()

	var out []*model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// SetInstancePaused updates the pause flags on an instance.
func (s *Store) SetInstancePaused(ctx context.Context, id string, paused bool, until *time.Time) error {
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE instances SET paused = ?, paused_until_utc = ? WHERE id = ?`,
			paused, fmtTimePtr(until), id)
		return err
	})
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(sc scanner) (*model.Instance, error) {
	var (
		inst        model.Instance
		pausedUntil sql.NullString
		created     string
	)
	if err := sc.Scan(&inst.ID, &inst.DisplayName, &inst.Enabled, &inst.Paused, &pausedUntil,
		&inst.CheckIntervalSeconds, &inst.ConcurrencyLimit, &inst.TimeZoneID, &created); err != nil {
		return nil, err
	}
	var err error
	if inst.PausedUntilUTC, err = parseTimePtr(pausedUntil); err != nil {
		return nil, err
	}
	if inst.CreatedUTC, err = parseTime(created); err != nil {
		return nil, err
	}
	return &inst, nil
}

// CreateTarget inserts a new target and assigns its ID. Expected status
// bounds default to 200..399 when unset.
func (s *Store) CreateTarget(ctx context.Context, t *model.Target) error {
	if t.HTTPExpectedStatusMin == 0 {
		t.HTTPExpectedStatusMin = 200
	}
	if t.HTTPExpectedStatusMax == 0 {
		t.HTTPExpectedStatusMax = 399
	}
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO targets (instance_id, url, enabled, http_expected_status_min, http_expected_status_max, login_rule)
VALUES (?, ?, ?, ?, ?, ?)`,
			t.InstanceID, t.URL, t.Enabled, t.HTTPExpectedStatusMin, t.HTTPExpectedStatusMax, t.LoginRule)
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		return err
	})
}

// ListEnabledTargets returns the instance's enabled targets ordered by id,
// the order in which the scheduler fans out probes.
func (s *Store) ListEnabledTargets(ctx context.Context, instanceID string) ([]*model.Target, error) {
	return s.listTargets(ctx, instanceID, true)
}

// ListTargets returns all of the instance's targets ordered by id.
func (s *Store) ListTargets(ctx context.Context, instanceID string) ([]*model.Target, error) {
	return s.listTargets(ctx, instanceID, false)
}

func (s *Store) listTargets(ctx context.Context, instanceID string, enabledOnly bool) ([]*model.Target, error) {
	q := `
SELECT id, instance_id, url, enabled, http_expected_status_min, http_expected_status_max, login_rule
FROM targets WHERE instance_id = ?`
	if enabledOnly {
		q += ` AND enabled = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, instanceID)
	if err != nil {
		return nil, fmt.Errorf("store: list targets for %q: %w", instanceID, err)
	}
	defer rows.Close()

	var out []*model.Target
	for rows.Next() {
		var t model.Target
		if err := rows.Scan(&t.ID, &t.InstanceID, &t.URL, &t.Enabled,
			&t.HTTPExpectedStatusMin, &t.HTTPExpectedStatusMax, &t.LoginRule); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
