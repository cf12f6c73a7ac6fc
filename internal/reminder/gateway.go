package reminder

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AlarmGateway is the external facility that wakes the process at a
// wall-clock time, repeating on a weekday set. It is a write-only
// side-effect sink: there is deliberately no way to query what is
// currently registered, which is why reconciliation re-asserts the
// full enabled set instead of diffing.
type AlarmGateway interface {
	Schedule(item ReminderItem)
	Cancel(item ReminderItem)
	Update(old, updated ReminderItem)
	// ScheduleOnce registers a single non-repeating wake-up, used by snooze.
	ScheduleOnce(item ReminderItem, at time.Time)
}

// FireFunc receives wake-up signals from the gateway.
type FireFunc func(id int, typ ReminderType)

// TimerGateway implements AlarmGateway with in-process timers: one
// registration per (reminder, weekday), re-armed weekly after firing.
type TimerGateway struct {
	fire   FireFunc
	loc    *time.Location
	logger *zerolog.Logger

	mu     sync.Mutex
	timers map[int][]*time.Timer
	closed bool
}

func NewTimerGateway(fire FireFunc, loc *time.Location, logger *zerolog.Logger) *TimerGateway {
	if loc == nil {
		loc = time.Local
	}
	return &TimerGateway{
		fire:   fire,
		loc:    loc,
		logger: logger,
		timers: make(map[int][]*time.Timer),
	}
}

// nextOccurrence returns the next wall-clock instant of the weekday at
// hour:minute, strictly after now. Today's slot counts only if the
// time has not passed yet.
func nextOccurrence(now time.Time, wd time.Weekday, hour, minute int) time.Time {
	daysAhead := (int(wd) - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	candidate = candidate.AddDate(0, 0, daysAhead)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// Schedule registers the reminder for each of its weekdays. A disabled
// item is skipped. Any existing registration for the same id is
// cancelled first to avoid duplicates.
func (g *TimerGateway) Schedule(item ReminderItem) {
	if !item.Enabled {
		g.logger.Debug().Int("id", item.ID).Str("title", item.Title).
			Msg("skipping disabled reminder")
		return
	}

	g.Cancel(item)

	hour, minute, err := item.Clock()
	if err != nil {
		g.logger.Error().Err(err).Int("id", item.ID).Msg("cannot schedule reminder")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	for _, day := range item.Days {
		wd, err := ParseWeekday(day)
		if err != nil {
			g.logger.Error().Err(err).Int("id", item.ID).Msg("cannot schedule reminder day")
			continue
		}
		g.armLocked(item.ID, item.Type, wd, hour, minute)
	}

	g.logger.Info().Int("id", item.ID).Str("title", item.Title).
		Str("time", item.Time).Strs("days", item.Days).
		Msg("reminder scheduled")
}

// armLocked registers one weekly slot. The timer re-arms itself for
// the following week after firing. Caller holds g.mu.
func (g *TimerGateway) armLocked(id int, typ ReminderType, wd time.Weekday, hour, minute int) {
	now := time.Now().In(g.loc)
	at := nextOccurrence(now, wd, hour, minute)

	var timer *time.Timer
	timer = time.AfterFunc(time.Until(at), func() {
		g.mu.Lock()
		active := !g.closed && g.contains(id, timer)
		if active {
			g.remove(id, timer)
			g.armLocked(id, typ, wd, hour, minute)
		}
		g.mu.Unlock()

		if active {
			go g.fire(id, typ)
		}
	})
	g.timers[id] = append(g.timers[id], timer)
}

// Cancel stops every registration for the reminder's id.
func (g *TimerGateway) Cancel(item ReminderItem) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timers := g.timers[item.ID]
	if len(timers) == 0 {
		return
	}
	for _, t := range timers {
		t.Stop()
	}
	delete(g.timers, item.ID)

	g.logger.Debug().Int("id", item.ID).Msg("reminder cancelled")
}

// Update replaces registrations: cancel the old item, schedule the new.
func (g *TimerGateway) Update(old, updated ReminderItem) {
	g.Cancel(old)
	g.Schedule(updated)
}

// ScheduleOnce registers a single wake-up at the given instant.
func (g *TimerGateway) ScheduleOnce(item ReminderItem, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	id, typ := item.ID, item.Type
	var timer *time.Timer
	timer = time.AfterFunc(time.Until(at), func() {
		g.mu.Lock()
		active := !g.closed && g.contains(id, timer)
		if active {
			g.remove(id, timer)
		}
		g.mu.Unlock()

		if active {
			go g.fire(id, typ)
		}
	})
	g.timers[id] = append(g.timers[id], timer)

	g.logger.Info().Int("id", id).Time("at", at).Msg("one-shot reminder scheduled")
}

// Close stops all registrations.
func (g *TimerGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for _, timers := range g.timers {
		for _, t := range timers {
			t.Stop()
		}
	}
	g.timers = make(map[int][]*time.Timer)
}

// contains reports whether the timer is still registered for id.
// Caller holds g.mu.
func (g *TimerGateway) contains(id int, timer *time.Timer) bool {
	for _, t := range g.timers[id] {
		if t == timer {
			return true
		}
	}
	return false
}

// remove drops one timer from the id's registration list.
// Caller holds g.mu.
func (g *TimerGateway) remove(id int, timer *time.Timer) {
	timers := g.timers[id]
	for i, t := range timers {
		if t == timer {
			g.timers[id] = append(timers[:i], timers[i+1:]...)
			break
		}
	}
	if len(g.timers[id]) == 0 {
		delete(g.timers, id)
	}
}
