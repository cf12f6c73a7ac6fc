// Package reminder implements the session-scoped reminder scheduling
// and alert subsystem: durable per-principal reminder collections,
// alarm registrations kept in sync across restarts and login changes,
// and the single-active-alert state machine.
package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReminderType is the category tag of a reminder. It drives icon,
// color and default title text in the UI; it has no scheduling effect.
type ReminderType string

const (
	TypeMedication  ReminderType = "MEDICATION"
	TypeWater       ReminderType = "WATER"
	TypeMeal        ReminderType = "MEAL"
	TypeHeartRate   ReminderType = "HEART_RATE"
	TypeTemperature ReminderType = "TEMPERATURE"
	TypeGeneral     ReminderType = "GENERAL"
)

// ParseReminderType converts a stored enum name to a ReminderType.
func ParseReminderType(s string) (ReminderType, error) {
	switch t := ReminderType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeMedication, TypeWater, TypeMeal, TypeHeartRate, TypeTemperature, TypeGeneral:
		return t, nil
	default:
		return "", fmt.Errorf("unknown reminder type %q", s)
	}
}

// Language selects localized display strings.
type Language string

const (
	LangEnglish Language = "en"
	LangChinese Language = "zh"
)

// typeLabels keeps presentation strings out of the domain enum.
var typeLabels = map[ReminderType]struct{ en, zh string }{
	TypeMedication:  {"Medication", "服藥"},
	TypeWater:       {"Drink", "喝水"},
	TypeMeal:        {"Meal", "用餐"},
	TypeHeartRate:   {"Heart Rate", "心率"},
	TypeTemperature: {"Temperature", "體溫"},
	TypeGeneral:     {"Norm", "一般"},
}

var defaultTitles = map[ReminderType]struct{ en, zh string }{
	TypeMedication:  {"Medication Reminder", "服藥提醒"},
	TypeWater:       {"Water Reminder", "喝水提醒"},
	TypeMeal:        {"Meal Reminder", "用餐提醒"},
	TypeHeartRate:   {"Heart Rate Reminder", "心率提醒"},
	TypeTemperature: {"Temperature Reminder", "體溫提醒"},
	TypeGeneral:     {"Custom Reminder", "自定義提醒"},
}

// Label returns the short display label for a type.
func Label(t ReminderType, lang Language) string {
	l, ok := typeLabels[t]
	if !ok {
		l = typeLabels[TypeGeneral]
	}
	if lang == LangChinese {
		return l.zh
	}
	return l.en
}

// DefaultTitle returns the localized default title for a type.
func DefaultTitle(t ReminderType, lang Language) string {
	l, ok := defaultTitles[t]
	if !ok {
		l = defaultTitles[TypeGeneral]
	}
	if lang == LangChinese {
		return l.zh
	}
	return l.en
}

// Canonical weekday labels as stored in the days list.
var weekdayNames = [7]string{
	"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday",
}

var weekdayAliases = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday, "週日": time.Sunday, "周日": time.Sunday,
	"monday": time.Monday, "mon": time.Monday, "週一": time.Monday, "周一": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "週二": time.Tuesday, "周二": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday, "週三": time.Wednesday, "周三": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "週四": time.Thursday, "周四": time.Thursday,
	"friday": time.Friday, "fri": time.Friday, "週五": time.Friday, "周五": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday, "週六": time.Saturday, "周六": time.Saturday,
}

// ParseWeekday resolves a day label (canonical, short, or legacy
// Chinese form) to a time.Weekday.
func ParseWeekday(label string) (time.Weekday, error) {
	if wd, ok := weekdayAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return wd, nil
	}
	return 0, fmt.Errorf("unknown weekday label %q", label)
}

// WeekdayName returns the canonical label for a weekday.
func WeekdayName(wd time.Weekday) string {
	return weekdayNames[int(wd)%7]
}

// AllDays returns the full Monday-first week.
func AllDays() []string {
	return []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
}

// Weekdays returns Monday through Friday.
func Weekdays() []string {
	return []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}
}

// ReminderItem is the durable unit of the subsystem.
type ReminderItem struct {
	ID      int          `json:"id"`
	Title   string       `json:"title"`
	Time    string       `json:"time"` // wall-clock "HH:MM", local device time
	Days    []string     `json:"days"`
	Type    ReminderType `json:"type"`
	Enabled bool         `json:"isEnabled"`
}

// Clock parses the HH:MM time-of-day.
func (r ReminderItem) Clock() (hour, minute int, err error) {
	parts := strings.Split(r.Time, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q", r.Time)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", r.Time)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", r.Time)
	}
	return hour, minute, nil
}

// Normalize coerces a blank title to the type's default. A blank title
// is never rejected.
func (r *ReminderItem) Normalize(lang Language) {
	if strings.TrimSpace(r.Title) == "" {
		r.Title = DefaultTitle(r.Type, lang)
	}
}

// clone returns a copy with its own days slice.
func (r ReminderItem) clone() ReminderItem {
	c := r
	c.Days = append([]string(nil), r.Days...)
	return c
}

// DisplayMode is how a pending alert is presented.
type DisplayMode string

// DisplayFullscreen is the only mode the companion UI uses.
const DisplayFullscreen DisplayMode = "fullscreen"

// PendingAlert is the transient record of a currently-firing reminder.
// At most one exists at a time; it is never persisted.
type PendingAlert struct {
	Reminder    ReminderItem
	DisplayMode DisplayMode
	ShownAt     time.Time
}

// DefaultReminders is the fixed starter set seeded on first login.
func DefaultReminders(lang Language) []ReminderItem {
	titles := map[Language][5]string{
		LangEnglish: {"Morning Medication", "Drink Water", "Check Heart Rate", "Dinner Time", "Evening Medication"},
		LangChinese: {"早晨服藥", "喝水提醒", "測量心率", "晚餐時間", "晚上服藥"},
	}
	t, ok := titles[lang]
	if !ok {
		t = titles[LangEnglish]
	}

	return []ReminderItem{
		{ID: 1, Title: t[0], Time: "08:00", Days: AllDays(), Type: TypeMedication, Enabled: true},
		{ID: 2, Title: t[1], Time: "10:30", Days: Weekdays(), Type: TypeWater, Enabled: true},
		{ID: 3, Title: t[2], Time: "14:00", Days: []string{"Monday", "Wednesday", "Friday"}, Type: TypeHeartRate, Enabled: true},
		{ID: 4, Title: t[3], Time: "18:30", Days: AllDays(), Type: TypeMeal, Enabled: true},
		{ID: 5, Title: t[4], Time: "21:00", Days: AllDays(), Type: TypeMedication, Enabled: true},
	}
}
