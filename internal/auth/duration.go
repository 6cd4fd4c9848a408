package auth

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var relativeExpiry = regexp.MustCompile(`^(\d+)([dw])$`)

// ParseExpiry turns a token lifetime into an expiry time relative to now.
// Accepted forms are "never" or empty (no expiry), a Go duration such as
// "36h", a day or week count such as "30d" or "2w", and a calendar date
// "YYYY-MM-DD" which expires at the start of that day in UTC.
func ParseExpiry(s string, now time.Time) (*time.Time, error) {
	if s == "" || s == "never" {
		return nil, nil
	}

	if dur, err := time.ParseDuration(s); err == nil {
		if dur <= 0 {
			return nil, fmt.Errorf("token lifetime must be positive: %s", s)
		}
		t := now.Add(dur)
		return &t, nil
	}

	if m := relativeExpiry.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid token lifetime: %s", s)
		}
		days := n
		if m[2] == "w" {
			days = n * 7
		}
		t := now.AddDate(0, 0, days)
		return &t, nil
	}

	if t, err := time.Parse("2006-01-02", s); err == nil {
		if !t.After(now) {
			return nil, fmt.Errorf("expiry date must be in the future: %s", s)
		}
		return &t, nil
	}

	return nil, fmt.Errorf("invalid token lifetime %q (use 'never', '30d', '2w', '36h' or YYYY-MM-DD)", s)
}
