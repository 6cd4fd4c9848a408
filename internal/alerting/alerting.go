package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AlertConfig holds alerting configuration.
type AlertConfig struct {
	// WebhookURL is a generic webhook endpoint (Slack, Discord, or custom)
	WebhookURL string
	// WebhookType determines the payload format: "slack", "discord", or "generic"
	WebhookType string
	// MinFailuresBeforeAlert is the number of consecutive failed reloads
	// before an alert goes out.
	MinFailuresBeforeAlert int
	Timeout                time.Duration
}

// Enabled reports whether a webhook is configured.
func (c AlertConfig) Enabled() bool { return c.WebhookURL != "" }

func (c AlertConfig) withDefaults() AlertConfig {
	if c.WebhookType == "" {
		switch {
		case strings.Contains(c.WebhookURL, "slack.com"):
			c.WebhookType = "slack"
		case strings.Contains(c.WebhookURL, "discord.com"):
			c.WebhookType = "discord"
		default:
			c.WebhookType = "generic"
		}
	}
	if c.MinFailuresBeforeAlert <= 0 {
		c.MinFailuresBeforeAlert = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// ReloadAlert describes a failed or recovered rate registry reload.
type ReloadAlert struct {
	JobName             string
	Source              string
	Recovered           bool
	ConsecutiveFailures int
	Error               string
	Versions            int
	Duration            time.Duration
	LastSuccess         time.Time
	Timestamp           time.Time
}

// Notifier delivers an alert through a non-webhook channel such as e-mail.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Alerter sends alerts to configured webhooks and notifiers. It tracks consecutive
// failures so one outage produces one alert and one recovery notice.
type Alerter struct {
	cfg       AlertConfig
	client    *http.Client
	notifiers []Notifier
	log       zerolog.Logger

	mu          sync.Mutex
	failures    int
	alerted     bool
	lastSuccess time.Time
}

// NewAlerter creates a new alerter instance.
func NewAlerter(cfg AlertConfig, log zerolog.Logger, notifiers ...Notifier) *Alerter {
	cfg = cfg.withDefaults()
	return &Alerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		notifiers: notifiers,
		log:       log.With().Str("component", "alerting").Logger(),
	}
}

// ObserveReload records one reload outcome and sends a webhook when the
// failure streak reaches the threshold, or when a streak that was alerted
// on ends.
func (a *Alerter) ObserveReload(ctx context.Context, job, source string, versions int, dur time.Duration, runErr error) error {
	now := time.Now().UTC()

	a.mu.Lock()
	alert := ReloadAlert{
		JobName:   job,
		Source:    source,
		Versions:  versions,
		Duration:  dur,
		Timestamp: now,
	}
	send := false
	if runErr == nil {
		send = a.alerted
		alert.Recovered = true
		alert.ConsecutiveFailures = a.failures
		a.failures = 0
		a.alerted = false
		a.lastSuccess = now
	} else {
		a.failures++
		alert.ConsecutiveFailures = a.failures
		alert.Error = runErr.Error()
		if !a.alerted && a.failures >= a.cfg.MinFailuresBeforeAlert {
			send = true
			a.alerted = true
		}
	}
	alert.LastSuccess = a.lastSuccess
	a.mu.Unlock()

	if !send {
		return nil
	}
	errs := []error{a.Send(ctx, alert)}
	for _, n := range a.notifiers {
		if err := n.Notify(ctx, title(alert), plainText(alert)); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Send posts alert to the webhook.
func (a *Alerter) Send(ctx context.Context, alert ReloadAlert) error {
	if !a.cfg.Enabled() {
		a.log.Debug().Str("job", alert.JobName).Msg("alerts disabled, skipping")
		return nil
	}

	var payload []byte
	var err error

	switch a.cfg.WebhookType {
	case "slack":
		payload, err = buildSlackPayload(alert)
	case "discord":
		payload, err = buildDiscordPayload(alert)
	default:
		payload, err = buildGenericPayload(alert)
	}
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	a.log.Info().
		Str("job", alert.JobName).
		Bool("recovered", alert.Recovered).
		Int("consecutive_failures", alert.ConsecutiveFailures).
		Msg("sent reload alert")
	return nil
}

func title(alert ReloadAlert) string {
	if alert.Recovered {
		return fmt.Sprintf("Rate reload recovered: %s", alert.JobName)
	}
	return fmt.Sprintf("Rate reload failing: %s", alert.JobName)
}

func plainText(alert ReloadAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job: %s\n", alert.JobName)
	fmt.Fprintf(&b, "Source: %s\n", alert.Source)
	fmt.Fprintf(&b, "Consecutive failures: %d\n", alert.ConsecutiveFailures)
	fmt.Fprintf(&b, "Last success: %s\n", lastSuccessText(alert))
	fmt.Fprintf(&b, "Timestamp: %s\n", alert.Timestamp.Format(time.RFC3339))
	if alert.Recovered {
		fmt.Fprintf(&b, "Versions loaded: %d\n", alert.Versions)
	} else {
		fmt.Fprintf(&b, "Error: %s\n", alert.Error)
	}
	return b.String()
}

func lastSuccessText(alert ReloadAlert) string {
	if alert.LastSuccess.IsZero() {
		return "never"
	}
	return alert.LastSuccess.Format(time.RFC3339)
}

func buildSlackPayload(alert ReloadAlert) ([]byte, error) {
	emoji := ":x:"
	detail := fmt.Sprintf("*Error:*\n%s", alert.Error)
	if alert.Recovered {
		emoji = ":white_check_mark:"
		detail = fmt.Sprintf("*Versions loaded:*\n%d", alert.Versions)
	}

	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("%s %s", emoji, title(alert)),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Source:*\n%s", alert.Source)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Consecutive failures:*\n%d", alert.ConsecutiveFailures)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Last success:*\n%s", lastSuccessText(alert))},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Timestamp:*\n%s", alert.Timestamp.Format(time.RFC3339))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": detail,
				},
			},
		},
	}
	return json.Marshal(payload)
}

func buildDiscordPayload(alert ReloadAlert) ([]byte, error) {
	color := 16711680 // red
	description := alert.Error
	if alert.Recovered {
		color = 65280 // green
		description = fmt.Sprintf("%d rate versions loaded", alert.Versions)
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title(alert),
				"description": description,
				"color":       color,
				"fields": []map[string]interface{}{
					{"name": "Source", "value": alert.Source, "inline": true},
					{"name": "Consecutive failures", "value": fmt.Sprintf("%d", alert.ConsecutiveFailures), "inline": true},
					{"name": "Last success", "value": lastSuccessText(alert), "inline": true},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	}
	return json.Marshal(payload)
}

func buildGenericPayload(alert ReloadAlert) ([]byte, error) {
	alertType := "rate_reload_failure"
	if alert.Recovered {
		alertType = "rate_reload_recovered"
	}
	payload := map[string]interface{}{
		"alert_type":           alertType,
		"job_name":             alert.JobName,
		"source":               alert.Source,
		"consecutive_failures": alert.ConsecutiveFailures,
		"error":                alert.Error,
		"versions":             alert.Versions,
		"duration_ms":          alert.Duration.Milliseconds(),
		"last_success":         lastSuccessText(alert),
		"timestamp":            alert.Timestamp.Format(time.RFC3339),
	}
	return json.Marshal(payload)
}
