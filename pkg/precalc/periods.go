package precalc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// Window is one time range a metric is computed over. End is exclusive.
type Window struct {
	Label       string
	Granularity models.Granularity
	Start       time.Time
	End         time.Time
}

const dateLayout = "2006-01-02"

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func quarterStart(t time.Time) time.Time {
	q := (int(t.Month()) - 1) / 3
	return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodLabel renders the canonical label for the window starting at t.
func PeriodLabel(g models.Granularity, t time.Time) string {
	switch g {
	case models.GranularityDaily:
		return t.Format(dateLayout)
	case models.GranularityWeekly:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w)
	case models.GranularityMonthly:
		return t.Format("2006-01")
	case models.GranularityQuarterly:
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case models.GranularityYearly:
		return strconv.Itoa(t.Year())
	default:
		return strings.ToUpper(string(g))
	}
}

// Windows lists the ranges computed for a granularity: 30 days, 12 ISO
// weeks, 12 months, 4 quarters, 2 years, or one to-date window.
func Windows(g models.Granularity, now time.Time) []Window {
	today := day(now)
	tomorrow := today.AddDate(0, 0, 1)
	var out []Window
	add := func(start, end time.Time) {
		out = append(out, Window{Label: PeriodLabel(g, start), Granularity: g, Start: start, End: end})
	}

	switch g {
	case models.GranularityDaily:
		for i := 29; i >= 0; i-- {
			d := today.AddDate(0, 0, -i)
			add(d, d.AddDate(0, 0, 1))
		}
	case models.GranularityWeekly:
		monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
		for i := 11; i >= 0; i-- {
			s := monday.AddDate(0, 0, -7*i)
			add(s, s.AddDate(0, 0, 7))
		}
	case models.GranularityMonthly:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		for i := 11; i >= 0; i-- {
			s := first.AddDate(0, -i, 0)
			add(s, s.AddDate(0, 1, 0))
		}
	case models.GranularityQuarterly:
		qs := quarterStart(today)
		for i := 3; i >= 0; i-- {
			s := qs.AddDate(0, -3*i, 0)
			add(s, s.AddDate(0, 3, 0))
		}
	case models.GranularityYearly:
		for i := 1; i >= 0; i-- {
			s := time.Date(today.Year()-i, time.January, 1, 0, 0, 0, 0, time.UTC)
			add(s, s.AddDate(1, 0, 0))
		}
	case models.GranularityMTD:
		add(time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), tomorrow)
	case models.GranularityQTD:
		add(quarterStart(today), tomorrow)
	case models.GranularityYTD:
		add(time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), tomorrow)
	}
	return out
}

// ParsePeriod recovers the range of a labelled period. To-date labels are
// relative and do not parse.
func ParsePeriod(g models.Granularity, label string) (time.Time, time.Time, error) {
	switch g {
	case models.GranularityDaily:
		s, err := time.Parse(dateLayout, label)
		return s, s.AddDate(0, 0, 1), err
	case models.GranularityMonthly:
		s, err := time.Parse("2006-01", label)
		return s, s.AddDate(0, 1, 0), err
	case models.GranularityQuarterly:
		var y, q int
		if _, err := fmt.Sscanf(label, "%d-Q%d", &y, &q); err != nil || q < 1 || q > 4 {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid quarter label %q", label)
		}
		s := time.Date(y, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return s, s.AddDate(0, 3, 0), nil
	case models.GranularityYearly:
		y, err := strconv.Atoi(label)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid year label %q", label)
		}
		s := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		return s, s.AddDate(1, 0, 0), nil
	case models.GranularityWeekly:
		var y, w int
		if _, err := fmt.Sscanf(label, "%d-W%d", &y, &w); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid week label %q", label)
		}
		// ISO week 1 contains January 4th.
		jan4 := time.Date(y, time.January, 4, 0, 0, 0, 0, time.UTC)
		monday := jan4.AddDate(0, 0, -((int(jan4.Weekday())+6)%7)+7*(w-1))
		return monday, monday.AddDate(0, 0, 7), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("period %q of granularity %s has no fixed range", label, g)
}
