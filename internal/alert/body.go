package alert

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/sitewatch/monitor/internal/model"
	"github.com/sitewatch/monitor/internal/timezone"
)

// Kind is the notification kind carried in subjects, events, and webhook
// payloads.
type Kind string

const (
	KindDown       Kind = "AlertDown"
	KindDownRepeat Kind = "AlertDownRepeat"
	KindRecovered  Kind = "AlertRecovered"
)

// WebhookPayload is the JSON body POSTed to each webhook endpoint.
type WebhookPayload struct {
	EventType     string    `json:"eventType"`
	InstanceID    string    `json:"instanceId"`
	TargetID      int64     `json:"targetId"`
	URL           string    `json:"url"`
	IsUp          bool      `json:"isUp"`
	StateSinceUTC time.Time `json:"stateSinceUtc"`
	TimestampUTC  time.Time `json:"timestampUtc"`
	Summary       string    `json:"summary"`
}

// notice is everything the templates need to render one notification.
type notice struct {
	Kind     Kind
	Instance *model.Instance
	Target   *model.Target
	State    *model.TargetState
	Now      time.Time
	Loc      *time.Location
	BaseURL  string
}

const timeLayout = "2006-01-02 15:04:05"

var emailTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<body style="font-family:sans-serif">
<h2>{{.Title}}</h2>
<p><strong>{{.TargetURL}}</strong> ({{.InstanceName}})</p>
<table cellpadding="4">
<tr><td>Status</td><td>{{.StatusWord}}{{if .Degraded}} (degraded: login page no longer detected){{end}}</td></tr>
<tr><td>{{.SinceLabel}}</td><td>{{.SinceLocal}} ({{.SinceUTC}} UTC)</td></tr>
<tr><td>Checked</td><td>{{.NowLocal}} ({{.NowUTC}} UTC)</td></tr>
<tr><td>Last check</td><td>{{.Summary}}</td></tr>
{{if .FinalURL}}<tr><td>Final URL</td><td>{{.FinalURL}}</td></tr>{{end}}
{{if .UsedIP}}<tr><td>IP</td><td>{{.UsedIP}}</td></tr>{{end}}
</table>
{{if .Link}}<p><a href="{{.Link}}">Open monitor</a></p>{{end}}
</body>
</html>
`))

// emailData is the template model for one alert mail.
type emailData struct {
	Title        string
	TargetURL    string
	InstanceName string
	StatusWord   string
	Degraded     bool
	SinceLabel   string
	SinceLocal   string
	SinceUTC     string
	NowLocal     string
	NowUTC       string
	Summary      string
	FinalURL     string
	UsedIP       string
	Link         string
}

// subject renders the mail subject for the notification kind.
func (n *notice) subject() string {
	name := n.Instance.DisplayName
	if name == "" {
		name = n.Instance.ID
	}
	switch n.Kind {
	case KindDown:
		return fmt.Sprintf("[%s] DOWN: %s", name, n.Target.URL)
	case KindDownRepeat:
		return fmt.Sprintf("[%s] STILL DOWN: %s", name, n.Target.URL)
	default:
		return fmt.Sprintf("[%s] RECOVERED: %s", name, n.Target.URL)
	}
}

// htmlBody renders the HTML mail body.
func (n *notice) htmlBody() (string, error) {
	d := n.data()
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("alert: render email body: %w", err)
	}
	return buf.String(), nil
}

// textBody renders the plaintext fallback.
func (n *notice) textBody() string {
	d := n.data()
	return fmt.Sprintf("%s\n\n%s (%s)\nStatus: %s\n%s: %s (%s UTC)\nChecked: %s (%s UTC)\nLast check: %s\n",
		d.Title, d.TargetURL, d.InstanceName, d.StatusWord,
		d.SinceLabel, d.SinceLocal, d.SinceUTC, d.NowLocal, d.NowUTC, d.Summary)
}

func (n *notice) data() emailData {
	d := emailData{
		TargetURL:    n.Target.URL,
		InstanceName: n.Instance.DisplayName,
		Degraded:     n.State.Degraded(),
		SinceLocal:   timezone.ToLocal(n.State.StateSinceUTC, n.Loc).Format(timeLayout),
		SinceUTC:     n.State.StateSinceUTC.UTC().Format(timeLayout),
		NowLocal:     timezone.ToLocal(n.Now, n.Loc).Format(timeLayout),
		NowUTC:       n.Now.UTC().Format(timeLayout),
		Summary:      n.State.LastSummary,
		FinalURL:     n.State.LastFinalURL,
		UsedIP:       n.State.LastUsedIP,
	}
	if d.InstanceName == "" {
		d.InstanceName = n.Instance.ID
	}
	if n.BaseURL != "" {
		d.Link = fmt.Sprintf("%s/instances/%s", n.BaseURL, n.Instance.ID)
	}
	switch n.Kind {
	case KindDown:
		d.Title = "Website down"
		d.StatusWord = "DOWN"
		d.SinceLabel = "Down since"
	case KindDownRepeat:
		d.Title = "Website still down"
		d.StatusWord = "DOWN"
		d.SinceLabel = "Down since"
	default:
		d.Title = "Website recovered"
		d.StatusWord = "UP"
		d.SinceLabel = "Up since"
	}
	return d
}

// webhookPayload builds the JSON payload for the notification.
func (n *notice) webhookPayload() WebhookPayload {
	return WebhookPayload{
		EventType:     string(n.Kind),
		InstanceID:    n.Instance.ID,
		TargetID:      n.Target.ID,
		URL:           n.Target.URL,
		IsUp:          n.State.IsUp,
		StateSinceUTC: n.State.StateSinceUTC.UTC(),
		TimestampUTC:  n.Now.UTC(),
		Summary:       n.State.LastSummary,
	}
}
