package common

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TradingSession describes when the market accepts orders.
type TradingSession struct {
	Location    *time.Location
	OpenMinute  int // minutes after local midnight
	CloseMinute int
	WorkingDays []time.Weekday

	mu       sync.RWMutex
	holidays []time.Time
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// NewTradingSession builds a session from [market] configuration.
func NewTradingSession(cfg MarketConfig) (*TradingSession, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, NewValidationError("invalid market timezone %s: %v", cfg.Timezone, err)
	}

	open, err := parseClock(cfg.Open)
	if err != nil {
		return nil, NewValidationError("invalid market open %q: %v", cfg.Open, err)
	}
	closing, err := parseClock(cfg.Close)
	if err != nil {
		return nil, NewValidationError("invalid market close %q: %v", cfg.Close, err)
	}
	if closing <= open {
		return nil, NewValidationError("market close %s must be after open %s", cfg.Close, cfg.Open)
	}

	days := make([]time.Weekday, 0, len(cfg.WorkingDays))
	for _, name := range cfg.WorkingDays {
		key := strings.ToLower(strings.TrimSpace(name))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdayNames[key]
		if !ok {
			return nil, NewValidationError("invalid working day %q", name)
		}
		days = append(days, wd)
	}
	if len(days) == 0 {
		days = DefaultWorkingDays()
	}

	holidays := make([]time.Time, 0, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		t, err := time.ParseInLocation("2006-01-02", h, loc)
		if err != nil {
			return nil, NewValidationError("invalid holiday %q: %v", h, err)
		}
		holidays = append(holidays, t)
	}

	return &TradingSession{
		Location:    loc,
		OpenMinute:  open,
		CloseMinute: closing,
		WorkingDays: days,
		holidays:    holidays,
	}, nil
}

// DefaultWorkingDays returns Monday to Friday.
func DefaultWorkingDays() []time.Weekday {
	return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
}

func parseClock(s string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &hour, &minute); err != nil {
		return 0, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("out of range")
	}
	return hour*60 + minute, nil
}

// IsOpen reports whether t falls inside the session window. Open is
// inclusive, close is exclusive.
func (s *TradingSession) IsOpen(t time.Time) bool {
	local := t.In(s.Location)
	if !IsWorkingDay(local, s.WorkingDays, s.Holidays()) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= s.OpenMinute && minute < s.CloseMinute
}

// NextOpen returns the next session open strictly after t.
func (s *TradingSession) NextOpen(t time.Time) time.Time {
	local := t.In(s.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	holidays := s.Holidays()
	for i := 0; i < 15; i++ {
		candidate := day.AddDate(0, 0, i).Add(time.Duration(s.OpenMinute) * time.Minute)
		if candidate.After(t) && IsWorkingDay(candidate, s.WorkingDays, holidays) {
			return candidate
		}
	}
	return day.AddDate(0, 0, 1).Add(time.Duration(s.OpenMinute) * time.Minute)
}

// Holidays returns a copy of the closed dates.
func (s *TradingSession) Holidays() []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]time.Time(nil), s.holidays...)
}

// AddHolidays merges closed dates into the session and returns how many
// were new.
func (s *TradingSession) AddHolidays(dates []time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, d := range dates {
		local := d.In(s.Location)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
		known := false
		for _, h := range s.holidays {
			if h.Equal(day) {
				known = true
				break
			}
		}
		if !known {
			s.holidays = append(s.holidays, day)
			added++
		}
	}
	return added
}

// IsWorkingDay checks weekday membership and holidays in t's location.
func IsWorkingDay(t time.Time, workingDays []time.Weekday, holidays []time.Time) bool {
	isWorkDay := false
	for _, wd := range workingDays {
		if wd == t.Weekday() {
			isWorkDay = true
			break
		}
	}
	if !isWorkDay {
		return false
	}

	y, m, d := t.Date()
	for _, h := range holidays {
		hy, hm, hd := h.In(t.Location()).Date()
		if y == hy && m == hm && d == hd {
			return false
		}
	}
	return true
}
