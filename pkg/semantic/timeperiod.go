package semantic

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// Period types produced by ExtractTimePeriod.
const (
	PeriodCurrentMonth    = "current_month"
	PeriodLastMonth       = "last_month"
	PeriodCurrentQuarter  = "current_quarter"
	PeriodLastQuarter     = "last_quarter"
	PeriodCurrentYear     = "current_year"
	PeriodLastYear        = "last_year"
	PeriodMTD             = "mtd"
	PeriodQTD             = "qtd"
	PeriodYTD             = "ytd"
	PeriodSpecificMonth   = "specific_month"
	PeriodSpecificQuarter = "specific_quarter"
	PeriodSpecificYear    = "specific_year"
)

type relativePeriod struct {
	pattern    *regexp.Regexp
	periodType string
	unit       string
	offset     int
	toDate     bool
}

// relativePeriods is matched in order; to-date and "this" forms come before "last".
var relativePeriods = []relativePeriod{
	{regexp.MustCompile(`\b(month to date|month-to-date|mtd)\b`), PeriodMTD, "month", 0, true},
	{regexp.MustCompile(`\b(quarter to date|quarter-to-date|qtd)\b`), PeriodQTD, "quarter", 0, true},
	{regexp.MustCompile(`\b(year to date|year-to-date|ytd)\b`), PeriodYTD, "year", 0, true},
	{regexp.MustCompile(`\b(this|current) month\b`), PeriodCurrentMonth, "month", 0, false},
	{regexp.MustCompile(`\b(last|previous|prior) month\b`), PeriodLastMonth, "month", 1, false},
	{regexp.MustCompile(`\b(this|current) quarter\b`), PeriodCurrentQuarter, "quarter", 0, false},
	{regexp.MustCompile(`\b(last|previous|prior) quarter\b`), PeriodLastQuarter, "quarter", 1, false},
	{regexp.MustCompile(`\b(this|current) year\b`), PeriodCurrentYear, "year", 0, false},
	{regexp.MustCompile(`\b(last|previous|prior) year\b`), PeriodLastYear, "year", 1, false},
}

var (
	comparisonPhrase = regexp.MustCompile(`\b(vs\.?|versus|compared (to|with)|against)\s+(the\s+)?(last|previous|prior)\s+(month|quarter|year)\b`)
	monthYearPattern = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\s+(\d{4})\b`)
	quarterPattern   = regexp.MustCompile(`\bq([1-4])\s*(\d{4})\b`)
	yearOnlyPattern  = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

var monthNumbers = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ExtractTimePeriod returns the period named in the question, or nil when
// none is named. A nil period must not be replaced by a default filter.
func (p *Parser) ExtractTimePeriod(query string) *models.TimePeriod {
	q := strings.ToLower(query)
	// "vs last year" is a comparison, not the reporting window.
	q = comparisonPhrase.ReplaceAllString(q, " ")

	for _, rp := range relativePeriods {
		if m := rp.pattern.FindString(q); m != "" {
			return &models.TimePeriod{
				PeriodType: rp.periodType,
				Text:       m,
				SQLFilter:  p.relativeFilter(rp),
			}
		}
	}

	if m := monthYearPattern.FindStringSubmatch(q); m != nil {
		month := monthNumbers[m[1][:3]]
		year, _ := strconv.Atoi(m[2])
		start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		return &models.TimePeriod{
			PeriodType: PeriodSpecificMonth,
			Text:       fmt.Sprintf("%s %d", month, year),
			SQLFilter:  p.rangeFilter(start, start.AddDate(0, 1, 0)),
		}
	}
	if m := quarterPattern.FindStringSubmatch(q); m != nil {
		qtr, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		start := time.Date(year, time.Month(3*(qtr-1)+1), 1, 0, 0, 0, 0, time.UTC)
		return &models.TimePeriod{
			PeriodType: PeriodSpecificQuarter,
			Text:       fmt.Sprintf("Q%d %d", qtr, year),
			SQLFilter:  p.rangeFilter(start, start.AddDate(0, 3, 0)),
		}
	}
	if m := yearOnlyPattern.FindStringSubmatch(q); m != nil {
		year, _ := strconv.Atoi(m[1])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return &models.TimePeriod{
			PeriodType: PeriodSpecificYear,
			Text:       m[1],
			SQLFilter:  p.rangeFilter(start, start.AddDate(1, 0, 0)),
		}
	}
	return nil
}

func (p *Parser) postgres() bool {
	return strings.EqualFold(p.opts.Dialect, models.DialectPostgreSQL)
}

func (p *Parser) relativeFilter(rp relativePeriod) string {
	col := p.opts.TimeColumn
	if p.postgres() {
		today := "CURRENT_DATE"
		if rp.toDate {
			return fmt.Sprintf("%s >= DATE_TRUNC('%s', %s) AND %s <= %s", col, rp.unit, today, col, today)
		}
		anchor := today
		if rp.offset > 0 {
			anchor = fmt.Sprintf("%s - INTERVAL '%d %s'", today, rp.offset, rp.unit)
		}
		return fmt.Sprintf("DATE_TRUNC('%s', %s) = DATE_TRUNC('%s', %s)", rp.unit, col, rp.unit, anchor)
	}

	unit := strings.ToUpper(rp.unit)
	today := "CURRENT_DATE()"
	if rp.toDate {
		return fmt.Sprintf("%s >= DATE_TRUNC(%s, %s) AND %s <= %s", col, today, unit, col, today)
	}
	anchor := today
	if rp.offset > 0 {
		anchor = fmt.Sprintf("DATE_SUB(%s, INTERVAL %d %s)", today, rp.offset, unit)
	}
	return fmt.Sprintf("DATE_TRUNC(%s, %s) = DATE_TRUNC(%s, %s)", col, unit, anchor, unit)
}

func (p *Parser) rangeFilter(start, end time.Time) string {
	const layout = "2006-01-02"
	return fmt.Sprintf("%s >= DATE '%s' AND %s < DATE '%s'",
		p.opts.TimeColumn, start.Format(layout), p.opts.TimeColumn, end.Format(layout))
}
