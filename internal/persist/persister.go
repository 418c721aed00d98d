// Package persist turns one probe cycle's results into durable rows: an
// append-only check per result plus an upsert of the target's mutable state,
// preserving transition timestamps and consecutive-failure counts.
package persist

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/sitewatch/monitor/internal/model"
	"github.com/sitewatch/monitor/internal/probe"
	"github.com/sitewatch/monitor/internal/store"
)

// Persister batches probe results into the store under the write gate.
type Persister struct {
	store  *store.Store
	logger *slog.Logger
}

// New returns a Persister writing through st.
func New(st *store.Store, logger *slog.Logger) *Persister {
	return &Persister{store: st, logger: logger}
}

// Persist writes the cycle's results in a single write transaction: the
// state rows for all touched targets are loaded in one query, a check row is
// inserted per result, and each state row is upserted. Transient busy errors
// are retried by the gate; a non-transient error is logged and the batch is
// dropped so the scheduler never blocks.
func (p *Persister) Persist(ctx context.Context, results []*probe.Result) error {
	if len(results) == 0 {
		return nil
	}

	err := p.store.WithWriteTx(ctx, func(tx *sql.Tx) error {
		ids := make([]int64, len(results))
		for i, r := range results {
			ids[i] = r.TargetID
		}
		states, err := store.GetStatesTx(tx, ids)
		if err != nil {
			return err
		}

		for _, r := range results {
			check := toCheck(r)
			if err := store.InsertCheckTx(tx, check); err != nil {
				return err
			}
			next := applyResult(states[r.TargetID], r)
			if err := store.UpsertStateTx(tx, next); err != nil {
				return err
			}
			// Later results for the same target in one batch build on the
			// state just written.
			states[r.TargetID] = next
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("dropping probe batch after store error",
			slog.Int("results", len(results)), slog.Any("error", err))
	}
	return err
}

// toCheck converts a probe result into its immutable check row.
func toCheck(r *probe.Result) *model.Check {
	return &model.Check{
		TargetID:          r.TargetID,
		TimestampUTC:      r.TimestampUTC,
		TCPOk:             r.TCPOk,
		HTTPOk:            r.HTTPOk,
		HTTPStatusCode:    r.HTTPStatusCode,
		TCPLatencyMs:      r.TCPLatencyMs,
		HTTPLatencyMs:     r.HTTPLatencyMs,
		FinalURL:          r.FinalURL,
		UsedIP:            r.UsedIP,
		DetectedLoginType: r.DetectedLoginType,
		LoginDetected:     r.LoginDetected,
		Summary:           r.Summary,
	}
}

// applyResult folds one probe result into the target's state row, creating
// it on the first ever check.
//
// Invariants maintained:
//   - consecutiveFailures == 0 iff isUp
//   - stateSinceUtc moves only when isUp flips
//   - login fields change only when the probe produced an HTTP status
//   - loginDetectedEver never clears
func applyResult(prev *model.TargetState, r *probe.Result) *model.TargetState {
	up := r.TCPOk && r.HTTPOk
	ts := r.TimestampUTC

	if prev == nil {
		st := &model.TargetState{
			TargetID:      r.TargetID,
			IsUp:          up,
			LastCheckUTC:  ts,
			StateSinceUTC: ts,
			LastChangeUTC: ts,
			LastSummary:   r.Summary,
			LastFinalURL:  r.FinalURL,
			LastUsedIP:    r.UsedIP,
		}
		if !up {
			st.ConsecutiveFailures = 1
		}
		if r.HTTPStatusCode != nil {
			st.LoginDetectedLast = r.LoginDetected
			st.LastDetectedLoginType = r.DetectedLoginType
			st.LoginDetectedEver = r.LoginDetected
		}
		return st
	}

	st := *prev
	st.LastCheckUTC = ts
	st.LastSummary = r.Summary
	st.LastFinalURL = coalesce(r.FinalURL, prev.LastFinalURL)
	st.LastUsedIP = coalesce(r.UsedIP, prev.LastUsedIP)

	// Transport failures carry no HTTP response; the last-known login
	// surface stays untouched so a network blip cannot clear it.
	if r.HTTPStatusCode != nil {
		st.LoginDetectedLast = r.LoginDetected
		st.LastDetectedLoginType = r.DetectedLoginType
		st.LoginDetectedEver = prev.LoginDetectedEver || r.LoginDetected
	}

	if up == prev.IsUp {
		if up {
			st.ConsecutiveFailures = 0
		} else {
			st.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		}
		return &st
	}

	// Up/down flip: anchor the new state period.
	st.IsUp = up
	st.StateSinceUTC = ts
	st.LastChangeUTC = ts
	if up {
		st.ConsecutiveFailures = 0
	} else {
		st.ConsecutiveFailures = 1
	}
	return &st
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
