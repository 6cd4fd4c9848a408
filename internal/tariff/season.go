package tariff

import "time"

// SeasonOf classifies a date: June through September is summer.
func SeasonOf(d time.Time) Season {
	if m := d.Month(); m >= time.June && m <= time.September {
		return SeasonSummer
	}
	return SeasonNonSummer
}

// Split counts summer and non-summer days from start to end inclusive.
func Split(start, end time.Time) (SeasonalSplit, error) {
	start, end = DateOf(start), DateOf(end)
	if end.Before(start) {
		return SeasonalSplit{}, &InvalidRangeError{Start: start, End: end}
	}

	var s SeasonalSplit
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if SeasonOf(d) == SeasonSummer {
			s.SummerDays++
		} else {
			s.NonSummerDays++
		}
	}
	s.TotalDays = s.SummerDays + s.NonSummerDays
	return s, nil
}

// DetermineSeason returns the majority season of the period. On an exact tie
// the season of the end date wins, since the closing date has priority.
func DetermineSeason(start, end time.Time) (Season, error) {
	s, err := Split(start, end)
	if err != nil {
		return "", err
	}
	return MajoritySeason(s, end), nil
}

// MajoritySeason picks the season with more days in an existing split,
// breaking ties with the season of end.
func MajoritySeason(s SeasonalSplit, end time.Time) Season {
	switch {
	case s.SummerDays > s.NonSummerDays:
		return SeasonSummer
	case s.NonSummerDays > s.SummerDays:
		return SeasonNonSummer
	default:
		return SeasonOf(end)
	}
}

// CrossesBoundary reports whether start and end fall in different seasons.
// It only compares the two boundary dates and is meant for warnings.
func CrossesBoundary(start, end time.Time) bool {
	return SeasonOf(start) != SeasonOf(end)
}
