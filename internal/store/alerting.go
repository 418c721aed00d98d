package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sitewatch/monitor/internal/model"
)

// SaveSmtpSettings upserts the instance's outbound mail configuration. The
// PasswordProtected field must already be run through the Protector; this
// layer never sees plaintext credentials.
func (s *Store) SaveSmtpSettings(ctx context.Context, set *model.SmtpSettings) error {
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO smtp_settings (instance_id, host, port, security, username, password_protected, from_address)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (instance_id) DO UPDATE SET
    host = excluded.host, port = excluded.port, security = excluded.security,
    username = excluded.username, password_protected = excluded.password_protected,
    from_address = excluded.from_address`,
			set.InstanceID, set.Host, set.Port, string(set.Security),
			set.Username, set.PasswordProtected, set.FromAddress)
		return err
	})
}

// GetSmtpSettings returns the instance's mail configuration, or (nil, nil)
// when none has been saved.
func (s *Store) GetSmtpSettings(ctx context.Context, instanceID string) (*model.SmtpSettings, error) {
	var (
		set      model.SmtpSettings
		security string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT instance_id, host, port, security, username, password_protected, from_address
FROM smtp_settings WHERE instance_id = ?`, instanceID).
		Scan(&set.InstanceID, &set.Host, &set.Port, &security, &set.Username, &set.PasswordProtected, &set.FromAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get smtp settings for %q: %w", instanceID, err)
	}
	set.Security = model.SecurityMode(security)
	return &set, nil
}

// UpsertRecipient adds or updates one alert mail recipient.
func (s *Store) UpsertRecipient(ctx context.Context, r *model.Recipient) error {
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO recipients (instance_id, email, enabled) VALUES (?, ?, ?)
ON CONFLICT (instance_id, email) DO UPDATE SET enabled = excluded.enabled`,
			r.InstanceID, r.Email, r.Enabled)
		return err
	})
}

// ListEnabledRecipients returns the instance's enabled recipients ordered by
// email.
func (s *Store) ListEnabledRecipients(ctx context.Context, instanceID string) ([]*model.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id, email, enabled FROM recipients WHERE instance_id = ? AND enabled = 1 ORDER BY email`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("store: list recipients for %q: %w", instanceID, err)
	}
	defer rows.Close()

	var out []*model.Recipient
	for rows.Next() {
		var r model.Recipient
		if err := rows.Scan(&r.InstanceID, &r.Email, &r.Enabled); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpsertWebhookEndpoint adds or updates one alert webhook endpoint.
func (s *Store) UpsertWebhookEndpoint(ctx context.Context, w *model.WebhookEndpoint) error {
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO webhook_endpoints (instance_id, url, enabled) VALUES (?, ?, ?)
ON CONFLICT (instance_id, url) DO UPDATE SET enabled = excluded.enabled`,
			w.InstanceID, w.URL, w.Enabled)
		return err
	})
}

// ListEnabledWebhooks returns the instance's enabled webhook endpoints
// ordered by url.
func (s *Store) ListEnabledWebhooks(ctx context.Context, instanceID string) ([]*model.WebhookEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id, url, enabled FROM webhook_endpoints WHERE instance_id = ? AND enabled = 1 ORDER BY url`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("store: list webhooks for %q: %w", instanceID, err)
	}
	defer rows.Close()

	var out []*model.WebhookEndpoint
	for rows.Next() {
		var w model.WebhookEndpoint
		if err := rows.Scan(&w.InstanceID, &w.URL, &w.Enabled); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}
