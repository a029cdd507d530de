package utils

import (
	"log"
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar wraps scmhub/calendar with a Mon-Fri fallback.
type TradingCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// suffixMICs maps a broker exchange suffix ("SHEL LN" -> "LN") to the
// venue's MIC code (ISO 10383) understood by scmhub/calendar.
var suffixMICs = map[string]string{
	"US": "xnys",
	"UN": "xnys",
	"UQ": "xnas",
	"LN": "xlon",
	"ID": "xlon", // Dublin follows the London session closely enough
	"PL": "xlon",
	"FP": "xpar",
	"GY": "xfra",
	"GR": "xfra",
	"NA": "xams",
	"BB": "xbru",
	"IM": "xmil",
	"SM": "xmad",
	"SW": "xswx",
	"SS": "xsto",
	"DC": "xcse",
	"CN": "xtse",
	"JT": "xtks",
	"HK": "xhkg",
	"AU": "xasx",
	"KS": "xkrx",
}

// -----------------------------------------------------------------------------

// GetCalendar resolves a broker-style identifier to its venue calendar.
func GetCalendar(symbol string) *TradingCalendar {
	mic := "xnys" // Default US
	parts := strings.Fields(strings.ToUpper(strings.TrimSpace(symbol)))
	if len(parts) == 2 {
		if m, ok := suffixMICs[parts[1]]; ok {
			mic = m
		}
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		// Fallback to xnys if not found
		cal = calendar.GetCalendar("xnys")
	}

	if cal == nil {
		log.Printf("WARNING: Failed to load calendar for MIC '%s' and fallback 'xnys'. Using simple fallback (Mon-Fri 09:30-16:00 NY).", mic)
		nyLoc, _ := time.LoadLocation("America/New_York")
		if nyLoc == nil {
			nyLoc = time.UTC // Worst case
		}
		return &TradingCalendar{Fallback: true, Timezone: nyLoc}
	}

	return &TradingCalendar{Calendar: cal, Fallback: false, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}

	if tc.Fallback {
		// Simple fallback: Mon-Fri
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// IsOpenOnMinute checks if the market is open at a specific minute.
func (tc *TradingCalendar) IsOpenOnMinute(t time.Time) bool {
	if tc.Timezone != nil {
		t = t.In(tc.Timezone)
	}

	if tc.Fallback {
		if !tc.IsTradingDay(t) {
			return false
		}

		hour := t.Hour()
		minute := t.Minute()

		// 9:30 - 16:00 NY Time
		if (hour > 9 || (hour == 9 && minute >= 30)) && hour < 16 {
			return true
		}
		return false
	}

	return tc.Calendar.IsOpen(t)
}
