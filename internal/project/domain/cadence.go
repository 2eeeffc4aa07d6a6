package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidCadence      = errors.New("invalid_cadence")
	ErrInvalidDeliveryTime = errors.New("invalid_delivery_time")
)

// Cadence is the recurring delivery schedule for a project: a set of
// weekdays plus a delivery time of day, both in UTC.
type Cadence struct {
	Weekdays []time.Weekday
	Hour     int
	Minute   int
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseCadence parses the stored cadence columns into a Cadence.
func ParseCadence(days, deliveryTime string) (Cadence, error) {
	seen := make(map[time.Weekday]bool)
	var weekdays []time.Weekday
	for _, part := range strings.Split(days, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		day, ok := weekdayNames[part]
		if !ok {
			return Cadence{}, fmt.Errorf("%w: unknown weekday %q", ErrInvalidCadence, part)
		}
		if !seen[day] {
			seen[day] = true
			weekdays = append(weekdays, day)
		}
	}
	if len(weekdays) == 0 {
		return Cadence{}, ErrInvalidCadence
	}
	sort.Slice(weekdays, func(i, j int) bool { return weekdays[i] < weekdays[j] })

	hour, minute, err := parseDeliveryTime(deliveryTime)
	if err != nil {
		return Cadence{}, err
	}

	return Cadence{Weekdays: weekdays, Hour: hour, Minute: minute}, nil
}

func parseDeliveryTime(value string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, 0, ErrInvalidDeliveryTime
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, ErrInvalidDeliveryTime
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, ErrInvalidDeliveryTime
	}
	return hour, minute, nil
}

// NextSlot returns the first delivery slot strictly after the given instant.
func (c Cadence) NextSlot(after time.Time) time.Time {
	after = after.UTC()
	for offset := 0; offset < 8; offset++ {
		day := after.AddDate(0, 0, offset)
		if !c.onWeekday(day.Weekday()) {
			continue
		}
		slot := time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, time.UTC)
		if slot.After(after) {
			return slot
		}
	}
	// Unreachable with a non-empty weekday set.
	return time.Time{}
}

func (c Cadence) onWeekday(day time.Weekday) bool {
	for _, d := range c.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}
