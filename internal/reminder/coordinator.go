package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"careplus/internal/events"
	"careplus/internal/metrics"
)

// ErrNotAuthenticated is returned by gated operations when no
// principal is logged in. Callers can tell "nothing happened because
// you are not logged in" apart from "succeeded with an empty result".
var ErrNotAuthenticated = errors.New("reminder: not authenticated")

// SessionGate answers whether a principal is currently authenticated
// and who it is. Persistence and scheduling are gated entirely on it.
type SessionGate interface {
	IsAuthenticated() bool
	CurrentPrincipal() (string, bool)
}

// AlertSink records fired/dismissed/snoozed alerts for reporting.
type AlertSink interface {
	RecordAlertAction(ctx context.Context, principal string, reminderID int, reminderType, title, action string) error
}

// EscalationNotifier is told about alerts nobody acknowledged in time.
type EscalationNotifier interface {
	NotifyMissedAlert(ctx context.Context, principal string, alert PendingAlert) error
}

// Config holds coordinator settings.
type Config struct {
	Language Language
	// SnoozeDelay is how far in the future a snoozed reminder re-fires.
	SnoozeDelay time.Duration
	// EscalateAfter is how long an alert may stay unacknowledged before
	// the escalation notifier is told. Zero disables escalation.
	EscalateAfter time.Duration
}

func DefaultCoordinatorConfig() Config {
	return Config{
		Language:    LangEnglish,
		SnoozeDelay: 5 * time.Minute,
	}
}

// Coordinator owns the in-memory reminder collection, its persistence
// and its alarm registrations. It is safe for concurrent use: every
// read-modify-persist-schedule sequence runs under one mutex.
type Coordinator struct {
	config  Config
	store   Store
	gateway AlarmGateway
	gate    SessionGate
	logger  *zerolog.Logger

	alerts     AlertSink
	escalation EscalationNotifier

	mu            sync.Mutex
	items         []ReminderItem
	pending       *PendingAlert
	escalateTimer *time.Timer
}

func NewCoordinator(config Config, store Store, gateway AlarmGateway, gate SessionGate, logger *zerolog.Logger) *Coordinator {
	if config.Language == "" {
		config.Language = LangEnglish
	}
	if config.SnoozeDelay <= 0 {
		config.SnoozeDelay = 5 * time.Minute
	}

	return &Coordinator{
		config:  config,
		store:   store,
		gateway: gateway,
		gate:    gate,
		logger:  logger,
	}
}

// SetAlertSink attaches the optional alert history recorder.
func (c *Coordinator) SetAlertSink(sink AlertSink) {
	c.alerts = sink
}

// SetEscalationNotifier attaches the optional caregiver notifier.
func (c *Coordinator) SetEscalationNotifier(n EscalationNotifier) {
	c.escalation = n
}

// BindEvents subscribes the coordinator to session and theme changes.
// Login and logout both trigger a full reconciliation; a theme change
// only closes a displayed alert (display-compatibility workaround).
func (c *Coordinator) BindEvents(bus *events.Bus) {
	reload := func(events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Load(ctx); err != nil {
			c.logger.Error().Err(err).Msg("reload after session change failed")
		}
	}
	bus.Subscribe(events.TypeLogin, reload)
	bus.Subscribe(events.TypeLogout, reload)
	bus.Subscribe(events.TypeThemeChanged, func(events.Event) {
		c.closeAlertForThemeChange()
	})
}

// Load runs the startup reconciliation: clear memory, stop if nobody
// is authenticated, load (or seed defaults on first run / corrupt
// data), then cancel every registration and re-schedule the enabled
// subset. The cancel-all pass is not a diff because the gateway
// exposes no query API; re-asserting the full set is idempotent.
func (c *Coordinator) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Cancel registrations for whatever we knew about before clearing,
	// so a logout leaves nothing armed.
	for _, item := range c.items {
		c.gateway.Cancel(item)
	}
	c.items = nil

	// A session change also invalidates any alert that was showing;
	// the next principal must never see the previous one's alert.
	if c.pending != nil {
		c.logger.Debug().Int("dropped_id", c.pending.Reminder.ID).
			Msg("pending alert cleared by session change")
		metrics.IncAlertResolved("displaced")
		c.pending = nil
	}
	c.stopEscalationLocked()

	principal, ok := c.gate.CurrentPrincipal()
	if !ok {
		c.logger.Debug().Msg("no principal, reminder collection stays empty")
		metrics.SetActiveRegistrations(0)
		return nil
	}

	items, err := c.store.Load(ctx, principal)
	switch {
	case err == nil:
		c.items = items
		c.logger.Info().Str("principal", principal).Int("count", len(items)).
			Msg("reminders loaded")
	case errors.Is(err, ErrNoData):
		c.logger.Info().Str("principal", principal).Msg("first run, seeding default reminders")
		c.seedDefaultsLocked(ctx, principal)
	default:
		// Corrupt or failing storage degrades to the default set rather
		// than propagating; availability over strict integrity.
		c.logger.Error().Err(err).Str("principal", principal).
			Msg("reminder load failed, falling back to defaults")
		c.seedDefaultsLocked(ctx, principal)
	}

	c.reconcileLocked()
	return nil
}

// seedDefaultsLocked inserts the fixed starter set and persists it.
// Caller holds c.mu.
func (c *Coordinator) seedDefaultsLocked(ctx context.Context, principal string) {
	c.items = DefaultReminders(c.config.Language)
	c.persistLocked(ctx, principal)
	metrics.IncDefaultSeed()
}

// reconcileLocked cancels every in-memory registration and schedules
// the enabled subset. Caller holds c.mu.
func (c *Coordinator) reconcileLocked() {
	for _, item := range c.items {
		c.gateway.Cancel(item)
	}

	active := 0
	for _, item := range c.items {
		if item.Enabled {
			c.gateway.Schedule(item)
			metrics.IncScheduled()
			active++
		}
	}
	metrics.SetActiveRegistrations(active)
}

// persistLocked saves the whole collection. A save failure is logged
// and memory stays the (possibly unpersisted) source of truth until
// the next successful save. Caller holds c.mu.
func (c *Coordinator) persistLocked(ctx context.Context, principal string) {
	if err := c.store.Save(ctx, principal, c.items); err != nil {
		c.logger.Error().Err(err).Str("principal", principal).
			Msg("reminder save failed, in-memory state retained")
	}
}

// Reminders returns a copy of the current collection.
func (c *Coordinator) Reminders() []ReminderItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ReminderItem, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item.clone())
	}
	return out
}

// NextID returns max(existing ids) + 1, or 1 for an empty collection.
// Single-writer assumption: not unique across concurrent coordinators.
func (c *Coordinator) NextID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextIDLocked()
}

func (c *Coordinator) nextIDLocked() int {
	max := 0
	for _, item := range c.items {
		if item.ID > max {
			max = item.ID
		}
	}
	return max + 1
}

// Add appends a reminder, persists the collection and schedules the
// item if enabled. An id of 0, or one already taken, is replaced with
// the next free id under the same lock, so a collection never holds
// two items with the same id. The stored item is returned.
func (c *Coordinator) Add(ctx context.Context, item ReminderItem) (ReminderItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	principal, ok := c.gate.CurrentPrincipal()
	if !ok {
		return ReminderItem{}, ErrNotAuthenticated
	}

	if item.ID == 0 || c.indexOfLocked(item.ID) >= 0 {
		item.ID = c.nextIDLocked()
	}
	item.Normalize(c.config.Language)

	c.items = append(c.items, item)
	c.persistLocked(ctx, principal)

	if item.Enabled {
		c.gateway.Schedule(item)
		metrics.IncScheduled()
	}

	c.logger.Info().Str("principal", principal).Int("id", item.ID).
		Str("title", item.Title).Str("time", item.Time).
		Msg("reminder added")
	return item.clone(), nil
}

// Update replaces the record with the matching id. An unknown id is a
// silent no-op.
func (c *Coordinator) Update(ctx context.Context, updated ReminderItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	principal, ok := c.gate.CurrentPrincipal()
	if !ok {
		return ErrNotAuthenticated
	}

	idx := c.indexOfLocked(updated.ID)
	if idx < 0 {
		c.logger.Debug().Int("id", updated.ID).Msg("update of unknown reminder ignored")
		return nil
	}

	updated.Normalize(c.config.Language)
	old := c.items[idx]
	c.items[idx] = updated
	c.persistLocked(ctx, principal)

	c.gateway.Update(old, updated)
	if updated.Enabled {
		metrics.IncScheduled()
	}

	c.logger.Info().Str("principal", principal).Int("id", updated.ID).
		Msg("reminder updated")
	return nil
}

// Delete removes the record and cancels its registration. An unknown
// id is a silent no-op.
func (c *Coordinator) Delete(ctx context.Context, id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	principal, ok := c.gate.CurrentPrincipal()
	if !ok {
		return ErrNotAuthenticated
	}

	idx := c.indexOfLocked(id)
	if idx < 0 {
		c.logger.Debug().Int("id", id).Msg("delete of unknown reminder ignored")
		return nil
	}

	removed := c.items[idx]
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.persistLocked(ctx, principal)

	c.gateway.Cancel(removed)
	metrics.IncCancelled()

	c.logger.Info().Str("principal", principal).Int("id", id).Msg("reminder deleted")
	return nil
}

// Toggle replaces the record with a copy differing only in enabled
// state, then schedules or cancels accordingly. An unknown id is a
// silent no-op.
func (c *Coordinator) Toggle(ctx context.Context, id int, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	principal, ok := c.gate.CurrentPrincipal()
	if !ok {
		return ErrNotAuthenticated
	}

	idx := c.indexOfLocked(id)
	if idx < 0 {
		c.logger.Debug().Int("id", id).Msg("toggle of unknown reminder ignored")
		return nil
	}

	updated := c.items[idx].clone()
	updated.Enabled = enabled
	c.items[idx] = updated
	c.persistLocked(ctx, principal)

	if enabled {
		c.gateway.Schedule(updated)
		metrics.IncScheduled()
	} else {
		c.gateway.Cancel(updated)
		metrics.IncCancelled()
	}

	c.logger.Info().Str("principal", principal).Int("id", id).Bool("enabled", enabled).
		Msg("reminder toggled")
	return nil
}

func (c *Coordinator) indexOfLocked(id int) int {
	for i, item := range c.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// HandleWake is the gateway fire callback.
func (c *Coordinator) HandleWake(id int, typ ReminderType) {
	if err := c.ShowAlertWithType(id, string(typ)); err != nil {
		c.logger.Debug().Err(err).Int("id", id).Msg("wake-up dropped")
	}
}

// ShowAlert captures the reminder as the pending alert.
func (c *Coordinator) ShowAlert(id int) error {
	return c.ShowAlertWithType(id, "")
}

// ShowAlertWithType shows the alert for the reminder id. When the id
// is not in memory but a valid type was supplied, a transient item is
// synthesized purely for projection; it is never persisted. When the
// stored type disagrees with the supplied one, the projected copy is
// corrected, also never persisted.
func (c *Coordinator) ShowAlertWithType(id int, typeName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	principal, ok := c.gate.CurrentPrincipal()
	if !ok {
		c.logger.Debug().Int("id", id).Msg("wake-up while logged out ignored")
		return ErrNotAuthenticated
	}

	var explicit ReminderType
	if typeName != "" {
		t, err := ParseReminderType(typeName)
		if err != nil {
			c.logger.Error().Err(err).Int("id", id).Msg("wake-up carried unknown type")
		} else {
			explicit = t
		}
	}

	var item *ReminderItem
	if idx := c.indexOfLocked(id); idx >= 0 {
		found := c.items[idx].clone()
		item = &found
	}

	switch {
	case item == nil && explicit != "":
		// The in-memory record is gone but the wake-up carried enough
		// context to reconstruct something to project.
		synthesized := ReminderItem{
			ID:      id,
			Title:   DefaultTitle(explicit, c.config.Language),
			Time:    "12:00",
			Days:    AllDays(),
			Type:    explicit,
			Enabled: true,
		}
		item = &synthesized
		c.logger.Info().Int("id", id).Str("type", string(explicit)).
			Msg("synthesized transient reminder for alert")
	case item == nil:
		c.logger.Debug().Int("id", id).Msg("wake-up for unknown reminder ignored")
		return nil
	case explicit != "" && item.Type != explicit:
		// Prefer the explicitly supplied type on the projected copy.
		item.Type = explicit
	}

	if c.pending != nil {
		c.logger.Warn().Int("displaced_id", c.pending.Reminder.ID).
			Msg("new alert displaced an unacknowledged one")
		metrics.IncAlertResolved("displaced")
	}
	c.stopEscalationLocked()

	c.pending = &PendingAlert{
		Reminder:    *item,
		DisplayMode: DisplayFullscreen,
		ShownAt:     time.Now(),
	}
	metrics.IncAlertShown(string(item.Type))
	c.recordAlertLocked(principal, *item, "fired")
	c.startEscalationLocked(principal)

	c.logger.Info().Str("principal", principal).Int("id", item.ID).
		Str("title", item.Title).Msg("alert shown")
	return nil
}

// CurrentPendingAlert returns the alert awaiting acknowledgement, or
// nil. This is the whole read contract the UI layer consumes.
func (c *Coordinator) CurrentPendingAlert() *PendingAlert {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return nil
	}
	copied := *c.pending
	copied.Reminder = c.pending.Reminder.clone()
	return &copied
}

// Dismiss clears the pending alert unconditionally.
func (c *Coordinator) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()

	principal, ok := c.gate.CurrentPrincipal()
	if !ok || c.pending == nil {
		return
	}

	c.recordAlertLocked(principal, c.pending.Reminder, "dismissed")
	metrics.IncAlertResolved("dismissed")
	c.logger.Info().Int("id", c.pending.Reminder.ID).Msg("alert dismissed")

	c.pending = nil
	c.stopEscalationLocked()
}

// Snooze clears the pending alert and re-arms a one-shot wake-up
// after the configured delay.
func (c *Coordinator) Snooze() {
	c.mu.Lock()
	defer c.mu.Unlock()

	principal, ok := c.gate.CurrentPrincipal()
	if !ok || c.pending == nil {
		return
	}

	item := c.pending.Reminder
	c.recordAlertLocked(principal, item, "snoozed")
	metrics.IncAlertResolved("snoozed")

	c.pending = nil
	c.stopEscalationLocked()

	at := time.Now().Add(c.config.SnoozeDelay)
	c.gateway.ScheduleOnce(item, at)
	c.logger.Info().Int("id", item.ID).Time("refire_at", at).Msg("alert snoozed")
}

// closeAlertForThemeChange force-closes a displayed alert so the
// theme can switch cleanly. The alert is not re-shown afterwards; the
// dropped id is logged so the loss is at least observable.
func (c *Coordinator) closeAlertForThemeChange() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return
	}

	c.logger.Warn().Int("dropped_id", c.pending.Reminder.ID).
		Msg("theme change closed an active alert without re-showing it")
	metrics.IncAlertResolved("displaced")

	c.pending = nil
	c.stopEscalationLocked()
}

func (c *Coordinator) recordAlertLocked(principal string, item ReminderItem, action string) {
	if c.alerts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.alerts.RecordAlertAction(ctx, principal, item.ID, string(item.Type), item.Title, action); err != nil {
		c.logger.Error().Err(err).Int("id", item.ID).Msg("alert history write failed")
	}
}

// startEscalationLocked arms the caregiver timeout for the alert just
// shown. Caller holds c.mu.
func (c *Coordinator) startEscalationLocked(principal string) {
	if c.escalation == nil || c.config.EscalateAfter <= 0 {
		return
	}

	shown := c.pending.ShownAt
	c.escalateTimer = time.AfterFunc(c.config.EscalateAfter, func() {
		c.mu.Lock()
		pending := c.pending
		stillUp := pending != nil && pending.ShownAt.Equal(shown)
		var alert PendingAlert
		if stillUp {
			alert = *pending
			alert.Reminder = pending.Reminder.clone()
		}
		c.mu.Unlock()

		if !stillUp {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.escalation.NotifyMissedAlert(ctx, principal, alert); err != nil {
			c.logger.Error().Err(err).Int("id", alert.Reminder.ID).
				Msg("caregiver escalation failed")
		}
	})
}

func (c *Coordinator) stopEscalationLocked() {
	if c.escalateTimer != nil {
		c.escalateTimer.Stop()
		c.escalateTimer = nil
	}
}
