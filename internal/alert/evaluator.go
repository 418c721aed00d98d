package alert

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitewatch/monitor/internal/clock"
	"github.com/sitewatch/monitor/internal/model"
	"github.com/sitewatch/monitor/internal/notify"
	"github.com/sitewatch/monitor/internal/runtime"
	"github.com/sitewatch/monitor/internal/secret"
	"github.com/sitewatch/monitor/internal/store"
	"github.com/sitewatch/monitor/internal/timezone"
)

// RuntimeSource exposes the worker statuses the evaluator gates on. The
// in-memory runtime state decides whether an instance alerts, not the
// persisted enabled flag: a stopped worker halts alerting immediately.
type RuntimeSource interface {
	GetAll() []runtime.Status
}

// Evaluator is the periodic alert ticker.
type Evaluator struct {
	store     *store.Store
	source    RuntimeSource
	smtp      notify.SmtpSender
	webhook   notify.WebhookSender
	protector secret.Protector
	tz        *timezone.Resolver
	clk       clock.Clock
	cfg       Config
	logger    *slog.Logger
	baseURL   string
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the wall clock (tests).
func WithClock(c clock.Clock) Option {
	return func(e *Evaluator) { e.clk = c }
}

// WithSenders overrides the notification senders (tests).
func WithSenders(s notify.SmtpSender, w notify.WebhookSender) Option {
	return func(e *Evaluator) { e.smtp, e.webhook = s, w }
}

// WithBaseURL sets the public base URL linked from alert mails.
func WithBaseURL(u string) Option {
	return func(e *Evaluator) { e.baseURL = u }
}

// NewEvaluator wires an evaluator over the store, the runtime manager, and
// the production senders.
func NewEvaluator(st *store.Store, src RuntimeSource, prot secret.Protector, tz *timezone.Resolver, cfg Config, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:     st,
		source:    src,
		smtp:      notify.NewSmtpSender(),
		webhook:   notify.NewWebhookSender(),
		protector: prot,
		tz:        tz,
		clk:       clock.System{},
		cfg:       cfg.Normalize(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run ticks until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	e.logger.Info("alert evaluator started",
		slog.Duration("tick", e.cfg.TickInterval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("alert evaluator stopped")
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce performs one evaluator pass over every runtime-running instance.
// Each target receives at most one notification per pass.
func (e *Evaluator) RunOnce(ctx context.Context) {
	for _, stat := range e.source.GetAll() {
		if stat.State != runtime.StateRunning {
			continue
		}
		if err := e.evaluateInstance(ctx, stat.InstanceID); err != nil {
			e.logger.Error("alert evaluation failed",
				slog.String("instance", stat.InstanceID), slog.Any("error", err))
		}
	}
}

// channels holds the instance's resolved notification fan-out.
type channels struct {
	email      *notify.SmtpConfig
	recipients []*model.Recipient
	webhooks   []*model.WebhookEndpoint
}

// configured reports whether at least one channel can deliver.
func (c *channels) configured() bool {
	return c.email != nil || len(c.webhooks) > 0
}

// evaluateInstance walks the instance's target states against a snapshot
// read in this pass and commits all state mutations and events together.
func (e *Evaluator) evaluateInstance(ctx context.Context, instanceID string) error {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}
	// Pause halts alerting as well as probing, even while the worker loop
	// itself keeps running so the instance can auto-resume.
	if inst.PausedAt(e.clk.Now()) {
		return nil
	}
	loc := e.tz.Resolve(inst.TimeZoneID)

	ch, err := e.loadChannels(ctx, instanceID)
	if err != nil {
		return err
	}
	if !ch.configured() {
		return nil
	}

	targets, err := e.store.ListTargets(ctx, instanceID)
	if err != nil {
		return err
	}
	byID := make(map[int64]*model.Target, len(targets))
	for _, t := range targets {
		byID[t.ID] = t
	}

	states, err := e.store.ListStates(ctx, instanceID)
	if err != nil {
		return err
	}

	var (
		updated []*model.TargetState
		events  []*model.Event
	)
	for _, st := range states {
		target, ok := byID[st.TargetID]
		if !ok || !target.Enabled {
			continue
		}
		changed, ev := e.evaluateTarget(ctx, inst, target, st, loc, ch)
		if changed {
			updated = append(updated, st)
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	if len(updated) == 0 && len(events) == 0 {
		return nil
	}

	return e.store.WithWriteTx(ctx, func(tx *sql.Tx) error {
		for _, st := range updated {
			if err := store.UpsertStateTx(tx, st); err != nil {
				return err
			}
		}
		for _, ev := range events {
			if err := store.AppendEventTx(tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// loadChannels resolves the instance's notification configuration. Email is
// configured when host, port, from address and at least one enabled
// recipient exist; a Protector failure skips email for this pass (logged
// once) without touching the webhook channel.
func (e *Evaluator) loadChannels(ctx context.Context, instanceID string) (*channels, error) {
	ch := &channels{}

	settings, err := e.store.GetSmtpSettings(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	recipients, err := e.store.ListEnabledRecipients(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if settings != nil && settings.Host != "" && settings.Port > 0 &&
		settings.FromAddress != "" && len(recipients) > 0 {
		cfg := &notify.SmtpConfig{
			Host:     settings.Host,
			Port:     settings.Port,
			Security: settings.Security,
			Username: settings.Username,
			From:     settings.FromAddress,
		}
		if settings.PasswordProtected != "" {
			plain, err := e.protector.Unprotect(settings.PasswordProtected)
			if err != nil {
				e.logger.Error("smtp password decryption failed, skipping email",
					slog.String("instance", instanceID), slog.Any("error", err))
				cfg = nil
			} else {
				cfg.Password = plain
			}
		}
		ch.email = cfg
		ch.recipients = recipients
	}

	ch.webhooks, err = e.store.ListEnabledWebhooks(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// evaluateTarget applies the DOWN and UP alert paths to one target state.
// It mutates st in place and reports whether it changed, plus an event to
// append (success or delivery error).
func (e *Evaluator) evaluateTarget(ctx context.Context, inst *model.Instance, target *model.Target, st *model.TargetState, loc *time.Location, ch *channels) (bool, *model.Event) {
	now := e.clk.Now()

	if !st.IsUp {
		changed := false
		// A new outage invalidates recovery bookkeeping left over from the
		// previous one.
		if st.RecoveredNotifiedUTC != nil || st.RecoveredDueUTC != nil {
			st.RecoveredNotifiedUTC = nil
			st.RecoveredDueUTC = nil
			changed = true
		}

		downAge := now.Sub(st.StateSinceUTC)
		switch {
		case st.DownFirstNotifiedUTC == nil:
			if downAge < e.cfg.DownAfter {
				return changed, nil
			}
			n := &notice{Kind: KindDown, Instance: inst, Target: target, State: st, Now: now, Loc: loc, BaseURL: e.baseURL}
			if !e.deliver(ctx, n, ch) {
				return changed, e.errorEvent(inst, target, now, KindDown)
			}
			st.DownFirstNotifiedUTC = &now
			st.LastNotifiedUTC = &now
			next := e.cfg.NextNotify(st.StateSinceUTC, now, loc)
			st.NextNotifyUTC = &next
			return true, e.alertEvent(inst, target, now, model.EventAlertDown)

		case st.NextNotifyUTC != nil && !now.Before(*st.NextNotifyUTC):
			n := &notice{Kind: KindDownRepeat, Instance: inst, Target: target, State: st, Now: now, Loc: loc, BaseURL: e.baseURL}
			if !e.deliver(ctx, n, ch) {
				return changed, e.errorEvent(inst, target, now, KindDownRepeat)
			}
			st.LastNotifiedUTC = &now
			next := e.cfg.NextNotify(st.StateSinceUTC, now, loc)
			st.NextNotifyUTC = &next
			return true, e.alertEvent(inst, target, now, model.EventAlertDownRepeat)
		}
		return changed, nil
	}

	// UP path.
	if st.DownFirstNotifiedUTC == nil {
		// The outage never escalated; nothing to recover from.
		if st.RecoveredDueUTC != nil || st.RecoveredNotifiedUTC != nil {
			st.RecoveredDueUTC = nil
			st.RecoveredNotifiedUTC = nil
			return true, nil
		}
		return false, nil
	}
	if st.RecoveredNotifiedUTC != nil {
		return false, nil
	}
	if st.RecoveredDueUTC == nil {
		due := st.StateSinceUTC.Add(e.cfg.RecoveredAfter)
		st.RecoveredDueUTC = &due
		return true, nil
	}
	if now.Before(*st.RecoveredDueUTC) {
		return false, nil
	}

	n := &notice{Kind: KindRecovered, Instance: inst, Target: target, State: st, Now: now, Loc: loc, BaseURL: e.baseURL}
	if !e.deliver(ctx, n, ch) {
		return false, e.errorEvent(inst, target, now, KindRecovered)
	}
	st.RecoveredNotifiedUTC = &now
	// Close out the outage's bookkeeping so a re-down starts cold.
	st.DownFirstNotifiedUTC = nil
	st.LastNotifiedUTC = nil
	st.NextNotifyUTC = nil
	st.RecoveredDueUTC = nil
	return true, e.alertEvent(inst, target, now, model.EventAlertRecovered)
}

// deliver fans the notification out to every enabled recipient and webhook
// endpoint, isolating per-recipient failures. It reports whether at least
// one delivery on either channel succeeded.
func (e *Evaluator) deliver(ctx context.Context, n *notice, ch *channels) bool {
	delivered := false

	if ch.email != nil {
		html, err := n.htmlBody()
		if err != nil {
			e.logger.Error("failed to render alert email", slog.Any("error", err))
		} else {
			text := n.textBody()
			subject := n.subject()
			for _, r := range ch.recipients {
				msg := notify.EmailMessage{To: r.Email, Subject: subject, HTMLBody: html, TextBody: text}
				if err := e.smtp.Send(ctx, *ch.email, msg); err != nil {
					e.logger.Warn("alert email failed",
						slog.String("recipient", r.Email), slog.Any("error", err))
					continue
				}
				delivered = true
			}
		}
	}

	payload := n.webhookPayload()
	for _, wh := range ch.webhooks {
		if err := e.webhook.Send(ctx, wh.URL, payload); err != nil {
			e.logger.Warn("alert webhook failed",
				slog.String("endpoint", wh.URL), slog.Any("error", err))
			continue
		}
		delivered = true
	}
	return delivered
}

func (e *Evaluator) alertEvent(inst *model.Instance, target *model.Target, now time.Time, typ model.EventType) *model.Event {
	tid := target.ID
	return &model.Event{
		InstanceID:   inst.ID,
		TargetID:     &tid,
		TimestampUTC: now,
		Type:         typ,
		Message:      fmt.Sprintf("%s: %s", typ, target.URL),
	}
}

func (e *Evaluator) errorEvent(inst *model.Instance, target *model.Target, now time.Time, kind Kind) *model.Event {
	tid := target.ID
	return &model.Event{
		InstanceID:   inst.ID,
		TargetID:     &tid,
		TimestampUTC: now,
		Type:         model.EventError,
		Message:      fmt.Sprintf("notification delivery failed (%s): %s", kind, target.URL),
	}
}
