package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careplus/internal/events"
)

// MockStore implements Store with an in-memory map per principal.
type MockStore struct {
	mu      sync.Mutex
	data    map[string][]ReminderItem
	loadErr error
	saveErr error
	saves   int
}

func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string][]ReminderItem)}
}

func (m *MockStore) Load(ctx context.Context, principal string) ([]ReminderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}
	items, ok := m.data[principal]
	if !ok {
		return nil, ErrNoData
	}
	out := make([]ReminderItem, len(items))
	copy(out, items)
	return out, nil
}

func (m *MockStore) Save(ctx context.Context, principal string, items []ReminderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	saved := make([]ReminderItem, len(items))
	copy(saved, items)
	m.data[principal] = saved
	m.saves++
	return nil
}

func (m *MockStore) Saved(principal string) []ReminderItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[principal]
}

func (m *MockStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// MockGateway records the armed set without real timers.
type MockGateway struct {
	mu        sync.Mutex
	armed     map[int]bool
	oneShots  []int
	schedules int
	cancels   int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{armed: make(map[int]bool)}
}

func (m *MockGateway) Schedule(item ReminderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !item.Enabled {
		return
	}
	m.armed[item.ID] = true
	m.schedules++
}

func (m *MockGateway) Cancel(item ReminderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.armed, item.ID)
	m.cancels++
}

func (m *MockGateway) Update(old, updated ReminderItem) {
	m.Cancel(old)
	m.Schedule(updated)
}

func (m *MockGateway) ScheduleOnce(item ReminderItem, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneShots = append(m.oneShots, item.ID)
}

func (m *MockGateway) Armed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int
	for id := range m.armed {
		ids = append(ids, id)
	}
	return ids
}

func (m *MockGateway) IsArmed(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed[id]
}

func (m *MockGateway) OneShots() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.oneShots...)
}

// MockGate is a session gate whose principal can be swapped.
type MockGate struct {
	mu        sync.Mutex
	principal string
}

func (g *MockGate) SetPrincipal(p string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.principal = p
}

func (g *MockGate) IsAuthenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.principal != ""
}

func (g *MockGate) CurrentPrincipal() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.principal, g.principal != ""
}

// MockSink records alert history calls.
type MockSink struct {
	mu      sync.Mutex
	actions []string
}

func (s *MockSink) RecordAlertAction(ctx context.Context, principal string, reminderID int, reminderType, title, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *MockSink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *MockStore, *MockGateway, *MockGate) {
	t.Helper()
	store := NewMockStore()
	gateway := NewMockGateway()
	gate := &MockGate{}
	logger := zerolog.Nop()
	c := NewCoordinator(DefaultCoordinatorConfig(), store, gateway, gate, &logger)
	return c, store, gateway, gate
}

func TestLoadSeedsDefaultsOnFirstRun(t *testing.T) {
	c, store, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")

	require.NoError(t, c.Load(context.Background()))

	items := c.Reminders()
	require.Len(t, items, 5)
	assert.Equal(t, "Morning Medication", items[0].Title)
	assert.Equal(t, "08:00", items[0].Time)
	assert.Equal(t, TypeMedication, items[0].Type)
	for _, item := range items {
		assert.True(t, item.Enabled)
		assert.True(t, gateway.IsArmed(item.ID), "default reminder %d should be armed", item.ID)
	}

	// The seeded set must be persisted under the principal's key.
	assert.Len(t, store.Saved("alice"), 5)
}

func TestLoadSeedsOnlyOnce(t *testing.T) {
	c, store, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")

	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.Delete(context.Background(), 4))
	require.Len(t, c.Reminders(), 4)

	// A second reconciliation must load the saved set, not re-seed.
	require.NoError(t, c.Load(context.Background()))
	assert.Len(t, c.Reminders(), 4)
	assert.Len(t, store.Saved("alice"), 4)
}

func TestLoadFallsBackToDefaultsOnStoreError(t *testing.T) {
	c, store, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	store.loadErr = errors.New("payload is not valid JSON")

	require.NoError(t, c.Load(context.Background()))

	assert.Len(t, c.Reminders(), 5, "corrupt data degrades to the default set")
	assert.Len(t, gateway.Armed(), 5)
}

func TestLoadWhileLoggedOutClearsEverything(t *testing.T) {
	c, store, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	require.Len(t, gateway.Armed(), 5)

	gate.SetPrincipal("")
	require.NoError(t, c.Load(context.Background()))

	assert.Empty(t, c.Reminders())
	assert.Empty(t, gateway.Armed(), "logout must leave nothing armed")
	assert.Equal(t, 1, store.SaveCount(), "logout must not write anything")
}

func TestLoadClearsPendingAlert(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.ShowAlert(1))
	require.NotNil(t, c.CurrentPendingAlert())

	gate.SetPrincipal("")
	require.NoError(t, c.Load(context.Background()))
	assert.Nil(t, c.CurrentPendingAlert(), "logout must drop the alert")

	// A principal switch must not leak the previous alert either.
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.ShowAlert(2))
	gate.SetPrincipal("bob")
	require.NoError(t, c.Load(context.Background()))
	assert.Nil(t, c.CurrentPendingAlert())
}

func TestLoadIsIdempotent(t *testing.T) {
	c, _, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")

	require.NoError(t, c.Load(context.Background()))
	first := c.Reminders()

	require.NoError(t, c.Load(context.Background()))
	second := c.Reminders()

	assert.Equal(t, first, second)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, gateway.Armed())
}

func TestSessionIsolation(t *testing.T) {
	c, store, _, gate := newTestCoordinator(t)

	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.Delete(context.Background(), 1))

	gate.SetPrincipal("bob")
	require.NoError(t, c.Load(context.Background()))

	// Bob gets his own seeded set; Alice's edit stays under her key.
	assert.Len(t, c.Reminders(), 5)
	assert.Len(t, store.Saved("alice"), 4)
	assert.Len(t, store.Saved("bob"), 5)
}

func TestAddAssignsNextID(t *testing.T) {
	c, store, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	item := ReminderItem{Title: "Walk", Time: "16:00", Days: Weekdays(), Type: TypeGeneral, Enabled: true}
	added, err := c.Add(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, 6, added.ID, "id 0 gets max+1")
	assert.Len(t, c.Reminders(), 6)
	assert.True(t, gateway.IsArmed(6))
	assert.Len(t, store.Saved("alice"), 6)
}

func TestAddReassignsCollidingID(t *testing.T) {
	c, store, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	// Id 3 is already taken by the seeded set.
	added, err := c.Add(context.Background(), ReminderItem{
		ID: 3, Title: "Walk", Time: "16:00", Days: Weekdays(), Type: TypeGeneral, Enabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, added.ID, "a taken id is replaced with the next free one")

	// Exactly one item per id, in memory and as persisted.
	counts := make(map[int]int)
	for _, item := range c.Reminders() {
		counts[item.ID]++
	}
	for id, n := range counts {
		assert.Equal(t, 1, n, "id %d must be unique", id)
	}
	assert.Len(t, store.Saved("alice"), 6)
	assert.True(t, gateway.IsArmed(6))
}

func TestNextIDIsMaxPlusOne(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	// Deleting 2 leaves max id 5, so the next id is still 6.
	require.NoError(t, c.Delete(context.Background(), 2))
	assert.Equal(t, 6, c.NextID())

	// Ids are max+1, not a counter: deleting the max id shrinks the next id.
	require.NoError(t, c.Delete(context.Background(), 5))
	assert.Equal(t, 5, c.NextID())
}

func TestAddCoercesBlankTitle(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	item := ReminderItem{Title: "  ", Time: "09:00", Days: AllDays(), Type: TypeWater, Enabled: true}
	added, err := c.Add(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "Water Reminder", added.Title)
}

func TestAddDisabledItemIsNotScheduled(t *testing.T) {
	c, _, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	item := ReminderItem{Title: "Nap", Time: "13:00", Days: AllDays(), Type: TypeGeneral, Enabled: false}
	_, err := c.Add(context.Background(), item)
	require.NoError(t, err)

	assert.Len(t, c.Reminders(), 6)
	assert.False(t, gateway.IsArmed(6))
}

func TestUpdateUnknownIDIsSilentNoOp(t *testing.T) {
	c, store, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	savesBefore := store.SaveCount()

	err := c.Update(context.Background(), ReminderItem{ID: 42, Title: "Ghost", Time: "11:00", Days: AllDays(), Type: TypeGeneral, Enabled: true})

	require.NoError(t, err)
	assert.Len(t, c.Reminders(), 5)
	assert.Equal(t, savesBefore, store.SaveCount(), "no-op must not persist")
}

func TestDeleteCancelsRegistration(t *testing.T) {
	c, store, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.Delete(context.Background(), 3))

	assert.False(t, gateway.IsArmed(3))
	assert.Len(t, store.Saved("alice"), 4)
}

func TestToggleDisableThenEnableRestoresSchedule(t *testing.T) {
	c, _, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.Toggle(context.Background(), 3, false))
	assert.False(t, gateway.IsArmed(3))
	items := c.Reminders()
	assert.False(t, items[2].Enabled)
	// Only the enabled flag changes.
	assert.Equal(t, "Check Heart Rate", items[2].Title)
	assert.Equal(t, "14:00", items[2].Time)

	require.NoError(t, c.Toggle(context.Background(), 3, true))
	assert.True(t, gateway.IsArmed(3))
	assert.True(t, c.Reminders()[2].Enabled)
}

func TestToggleUnknownIDIsSilentNoOp(t *testing.T) {
	c, store, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	savesBefore := store.SaveCount()

	require.NoError(t, c.Toggle(context.Background(), 42, false))
	assert.Equal(t, savesBefore, store.SaveCount())
}

func TestWriteOperationsRequireLogin(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	item := ReminderItem{ID: 1, Title: "X", Time: "10:00", Days: AllDays(), Type: TypeGeneral, Enabled: true}
	_, err := c.Add(ctx, item)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.ErrorIs(t, c.Update(ctx, item), ErrNotAuthenticated)
	assert.ErrorIs(t, c.Delete(ctx, 1), ErrNotAuthenticated)
	assert.ErrorIs(t, c.Toggle(ctx, 1, false), ErrNotAuthenticated)
	assert.ErrorIs(t, c.ShowAlert(1), ErrNotAuthenticated)
}

func TestShowAlertProjectsStoredReminder(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.ShowAlert(2))

	pending := c.CurrentPendingAlert()
	require.NotNil(t, pending)
	assert.Equal(t, 2, pending.Reminder.ID)
	assert.Equal(t, "Drink Water", pending.Reminder.Title)
	assert.Equal(t, DisplayFullscreen, pending.DisplayMode)
	assert.WithinDuration(t, time.Now(), pending.ShownAt, time.Second)
}

func TestShowAlertSynthesizesForUnknownID(t *testing.T) {
	c, store, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	savesBefore := store.SaveCount()

	// Wake-up for a reminder deleted after its alarm was registered.
	require.NoError(t, c.ShowAlertWithType(99, "WATER"))

	pending := c.CurrentPendingAlert()
	require.NotNil(t, pending)
	assert.Equal(t, 99, pending.Reminder.ID)
	assert.Equal(t, TypeWater, pending.Reminder.Type)
	assert.Equal(t, "Water Reminder", pending.Reminder.Title)

	// The synthesized item must never reach the collection or the store.
	assert.Len(t, c.Reminders(), 5)
	assert.Equal(t, savesBefore, store.SaveCount())
}

func TestShowAlertUnknownIDWithoutTypeIsDropped(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.ShowAlert(99))
	assert.Nil(t, c.CurrentPendingAlert())
}

func TestShowAlertPrefersExplicitType(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	// Reminder 1 is MEDICATION; the wake-up claims WATER.
	require.NoError(t, c.ShowAlertWithType(1, "WATER"))

	pending := c.CurrentPendingAlert()
	require.NotNil(t, pending)
	assert.Equal(t, TypeWater, pending.Reminder.Type, "projection uses the explicit type")
	assert.Equal(t, TypeMedication, c.Reminders()[0].Type, "stored record keeps its type")
}

func TestNewAlertDisplacesPendingOne(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.ShowAlert(1))
	require.NoError(t, c.ShowAlert(2))

	pending := c.CurrentPendingAlert()
	require.NotNil(t, pending)
	assert.Equal(t, 2, pending.Reminder.ID, "at most one alert at a time")
}

func TestDismissClearsAlert(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.ShowAlert(1))

	c.Dismiss()
	assert.Nil(t, c.CurrentPendingAlert())

	// Dismiss with no pending alert is a no-op.
	c.Dismiss()
	assert.Nil(t, c.CurrentPendingAlert())
}

func TestSnoozeReArmsOneShot(t *testing.T) {
	c, _, gateway, gate := newTestCoordinator(t)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.ShowAlert(4))

	c.Snooze()

	assert.Nil(t, c.CurrentPendingAlert())
	assert.Equal(t, []int{4}, gateway.OneShots())
}

func TestAlertSinkRecordsLifecycle(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	sink := &MockSink{}
	c.SetAlertSink(sink)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.ShowAlert(1))
	c.Dismiss()
	require.NoError(t, c.ShowAlert(2))
	c.Snooze()

	assert.Equal(t, []string{"fired", "dismissed", "fired", "snoozed"}, sink.Actions())
}

func TestBindEventsReloadsOnLoginAndLogout(t *testing.T) {
	c, _, gateway, gate := newTestCoordinator(t)
	bus := events.NewBus()
	c.BindEvents(bus)

	gate.SetPrincipal("alice")
	bus.Publish(events.Event{Type: events.TypeLogin, Principal: "alice"})
	assert.Len(t, c.Reminders(), 5)

	gate.SetPrincipal("")
	bus.Publish(events.Event{Type: events.TypeLogout, Principal: "alice"})
	assert.Empty(t, c.Reminders())
	assert.Empty(t, gateway.Armed())
}

func TestThemeChangeClosesActiveAlert(t *testing.T) {
	c, _, _, gate := newTestCoordinator(t)
	bus := events.NewBus()
	c.BindEvents(bus)
	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.ShowAlert(1))

	bus.Publish(events.Event{Type: events.TypeThemeChanged})
	assert.Nil(t, c.CurrentPendingAlert(), "theme change closes the alert without re-showing it")

	// Reminders themselves are untouched.
	assert.Len(t, c.Reminders(), 5)
}

// MockNotifier signals escalations over a channel.
type MockNotifier struct {
	ch chan PendingAlert
}

func (n *MockNotifier) NotifyMissedAlert(ctx context.Context, principal string, alert PendingAlert) error {
	n.ch <- alert
	return nil
}

func TestEscalationFiresForUnacknowledgedAlert(t *testing.T) {
	store := NewMockStore()
	gateway := NewMockGateway()
	gate := &MockGate{}
	logger := zerolog.Nop()
	c := NewCoordinator(Config{EscalateAfter: 20 * time.Millisecond}, store, gateway, gate, &logger)
	notifier := &MockNotifier{ch: make(chan PendingAlert, 1)}
	c.SetEscalationNotifier(notifier)

	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.ShowAlert(1))

	select {
	case alert := <-notifier.ch:
		assert.Equal(t, 1, alert.Reminder.ID)
	case <-time.After(time.Second):
		t.Fatal("escalation did not fire")
	}
}

func TestEscalationSkippedAfterDismiss(t *testing.T) {
	store := NewMockStore()
	gateway := NewMockGateway()
	gate := &MockGate{}
	logger := zerolog.Nop()
	c := NewCoordinator(Config{EscalateAfter: 30 * time.Millisecond}, store, gateway, gate, &logger)
	notifier := &MockNotifier{ch: make(chan PendingAlert, 1)}
	c.SetEscalationNotifier(notifier)

	gate.SetPrincipal("alice")
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.ShowAlert(1))
	c.Dismiss()

	select {
	case <-notifier.ch:
		t.Fatal("dismissed alert must not escalate")
	case <-time.After(100 * time.Millisecond):
	}
}
