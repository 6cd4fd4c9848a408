package storage

import (
	"time"

	"github.com/google/uuid"
)

// RatesSnapshot is a raw rate table document as it was fetched from a
// source, kept so a later reload can fall back to it.
type RatesSnapshot struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Source    string    `json:"source" gorm:"index;column:source"`
	Payload   []byte    `json:"payload" gorm:"column:payload"`
	Versions  int       `json:"versions" gorm:"column:versions"`
	FetchedAt time.Time `json:"fetched_at" gorm:"index;column:fetched_at"`
}

func (RatesSnapshot) TableName() string { return "rates_snapshots" }

// Setting is a runtime-tunable key/value pair, e.g. refresh_interval_seconds.
type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey;column:key"`
	Value     string    `json:"value" gorm:"column:value"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Setting) TableName() string { return "settings" }

// ScheduledJob records the outcome of the last run of a background job.
type ScheduledJob struct {
	Name           string    `json:"name" gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `json:"last_run_at" gorm:"column:last_run_at"`
	LastDurationMs int64     `json:"last_duration_ms" gorm:"column:last_duration_ms"`
	LastSuccess    int       `json:"last_success" gorm:"column:last_success"`
	LastError      string    `json:"last_error,omitempty" gorm:"column:last_error"`
}

func (ScheduledJob) TableName() string { return "scheduled_jobs" }

// Succeeded reports whether the last run finished without error.
func (j ScheduledJob) Succeeded() bool { return j.LastSuccess == 1 }

// APIToken grants a role to bearers of the raw token. Only the SHA-256 of
// the token is stored.
type APIToken struct {
	ID         string     `json:"id" gorm:"primaryKey;column:id"`
	Name       string     `json:"name" gorm:"column:name"`
	TokenHash  string     `json:"-" gorm:"uniqueIndex;column:token_hash"`
	Role       string     `json:"role" gorm:"column:role"`
	CreatedAt  time.Time  `json:"created_at" gorm:"column:created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" gorm:"column:last_used_at"`
}

func (APIToken) TableName() string { return "api_tokens" }

// Expired reports whether the token has an expiry before now.
func (t APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

func newScheduledJob(name string, started time.Time, dur time.Duration, success bool, errMsg string) ScheduledJob {
	status := 0
	if success {
		status = 1
	}
	return ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
}

// prepareSnapshot assigns an id and fetch time when the caller left them
// empty. Times are stored in UTC so text-backed drivers order correctly.
func prepareSnapshot(snap *RatesSnapshot) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}
	snap.FetchedAt = snap.FetchedAt.UTC()
}

func prepareToken(tok *APIToken) {
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now()
	}
	tok.CreatedAt = tok.CreatedAt.UTC()
	if tok.ExpiresAt != nil {
		exp := tok.ExpiresAt.UTC()
		tok.ExpiresAt = &exp
	}
}
