// Package model defines the persistent entities shared by the store, the
// scheduler, the alert evaluator, and the HTTP API: monitoring instances,
// their targets, append-only check and event records, and the mutable
// per-target state row that anchors up/down transitions.
package model

import "time"

// Scheduling bounds enforced when an instance is created. The scheduler also
// clamps to them at runtime so a row predating validation cannot produce a
// zero-delay probe loop.
const (
	MinCheckIntervalSeconds = 5
	MinConcurrencyLimit     = 1
)

// Instance is a logically isolated monitoring tenant with its own targets,
// probe cadence, recipients and webhooks.
type Instance struct {
	// ID is the instance slug: 1-64 characters from [a-z0-9-]. Primary key.
	ID string
	// DisplayName is the human-readable name shown in notifications.
	DisplayName string
	// Enabled controls whether the instance is auto-started on boot.
	Enabled bool
	// Paused halts probing without stopping the scheduler loop.
	Paused bool
	// PausedUntilUTC, when set, pauses the instance until the given instant.
	PausedUntilUTC *time.Time
	// CheckIntervalSeconds is the delay between probe cycles. Minimum
	// MinCheckIntervalSeconds.
	CheckIntervalSeconds int
	// ConcurrencyLimit bounds parallel probes within one cycle. Minimum
	// MinConcurrencyLimit.
	ConcurrencyLimit int
	// TimeZoneID is the IANA zone used for the daily escalation slot.
	TimeZoneID string
	CreatedUTC time.Time
}

// PausedAt reports whether the instance is paused at now, either by the
// sticky flag or by a pause-until instant still in the future. A paused
// instance neither probes nor alerts.
func (i *Instance) PausedAt(now time.Time) bool {
	if i.Paused {
		return true
	}
	return i.PausedUntilUTC != nil && i.PausedUntilUTC.After(now)
}

// Target is a single URL under surveillance within an instance.
type Target struct {
	ID         int64
	InstanceID string
	URL        string
	Enabled    bool
	// HTTPExpectedStatusMin/Max bound the status codes counted as healthy.
	// Defaults 200..399.
	HTTPExpectedStatusMin int
	HTTPExpectedStatusMax int
	// LoginRule is an optional hint naming the expected login product.
	LoginRule string
}

// Check is one immutable probe outcome record.
type Check struct {
	ID                int64
	TargetID          int64
	TimestampUTC      time.Time
	TCPOk             bool
	HTTPOk            bool
	HTTPStatusCode    *int
	TCPLatencyMs      int64
	HTTPLatencyMs     int64
	FinalURL          string
	UsedIP            string
	DetectedLoginType string
	LoginDetected     bool
	Summary           string
}

// TargetState is the mutable 1:1 companion of a Target. It is created lazily
// on the first persisted Check and updated on every subsequent cycle.
type TargetState struct {
	TargetID int64
	IsUp     bool
	// LastCheckUTC is the timestamp of the most recent probe.
	LastCheckUTC time.Time
	// StateSinceUTC is the instant of the last up<->down flip.
	StateSinceUTC time.Time
	LastChangeUTC time.Time
	// ConsecutiveFailures is 0 iff IsUp; otherwise it counts back-to-back
	// failed probes.
	ConsecutiveFailures int
	LastSummary         string
	LastFinalURL        string
	LastUsedIP          string

	// Login surface tracking. Updated only for probes that produced an HTTP
	// status; transport failures never clobber the last-known login state.
	LastDetectedLoginType string
	LoginDetectedLast     bool
	// LoginDetectedEver is monotonic: once true it never clears.
	LoginDetectedEver bool

	// Alert-ladder bookkeeping. All nil while no outage is being escalated.
	DownFirstNotifiedUTC *time.Time
	LastNotifiedUTC      *time.Time
	NextNotifyUTC        *time.Time
	RecoveredDueUTC      *time.Time
	RecoveredNotifiedUTC *time.Time
}

// Degraded reports whether the target should be displayed as degraded: it is
// up, a login surface was seen at some point, but the last probe with an HTTP
// response no longer showed one. Degraded is a display classification only
// and never triggers alerts.
func (s *TargetState) Degraded() bool {
	return s.IsUp && s.LoginDetectedEver && !s.LoginDetectedLast
}

// EventType enumerates the audit event kinds appended by the alert evaluator.
type EventType string

const (
	EventAlertDown       EventType = "AlertDown"
	EventAlertDownRepeat EventType = "AlertDownRepeat"
	EventAlertRecovered  EventType = "AlertRecovered"
	EventError           EventType = "Error"
)

// Event is one append-only audit record.
type Event struct {
	ID           int64
	InstanceID   string
	TargetID     *int64
	TimestampUTC time.Time
	Type         EventType
	Message      string
}

// SecurityMode selects the SMTP transport security for an instance.
type SecurityMode string

const (
	SecurityNone     SecurityMode = "None"
	SecuritySSLTLS   SecurityMode = "SslTls"
	SecurityStartTLS SecurityMode = "StartTls"
)

// SmtpSettings holds the per-instance outbound mail configuration. The
// password is stored protected (opaque ciphertext) and decrypted only at
// send time.
type SmtpSettings struct {
	InstanceID        string
	Host              string
	Port              int
	Security          SecurityMode
	Username          string
	PasswordProtected string
	FromAddress       string
}

// Recipient is one enabled/disabled alert mail address, unique per
// (instance, email).
type Recipient struct {
	InstanceID string
	Email      string
	Enabled    bool
}

// WebhookEndpoint is one alert webhook URL, unique per (instance, url).
type WebhookEndpoint struct {
	InstanceID string
	URL        string
	Enabled    bool
}
