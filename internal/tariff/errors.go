package tariff

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoApplicableVersion = errors.New("no applicable rate version")
	ErrEndBeforeStart      = errors.New("end date before start date")
	ErrInvalidRateVersion  = errors.New("invalid rate version")
	ErrOverlappingVersions = errors.New("overlapping rate versions")
)

// NoApplicableVersionError is returned when no rate version covers a date.
// It carries the full known coverage so callers can report valid bounds.
type NoApplicableVersionError struct {
	QueriedDate  time.Time
	MinEffective time.Time
	MaxEffective time.Time
}

func (e *NoApplicableVersionError) Error() string {
	if e.MinEffective.IsZero() {
		return fmt.Sprintf("no applicable rate version for %s: no rate versions loaded", FormatDate(e.QueriedDate))
	}
	return fmt.Sprintf("no applicable rate version for %s: known coverage is %s to %s",
		FormatDate(e.QueriedDate), FormatDate(e.MinEffective), FormatDate(e.MaxEffective))
}

func (e *NoApplicableVersionError) Is(target error) bool {
	return target == ErrNoApplicableVersion
}

// InvalidRangeError is returned when a period ends before it starts.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: end %s is before start %s", FormatDate(e.End), FormatDate(e.Start))
}

func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrEndBeforeStart
}
