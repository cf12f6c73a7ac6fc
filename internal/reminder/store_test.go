package reminder

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "reminders_alice", StorageKey("alice"))
	assert.Equal(t, "reminders_admin", StorageKey("admin"))
}

func TestDecodeItemsMissingEnabledDefaultsTrue(t *testing.T) {
	// Payload written by an older build without the isEnabled field.
	payload := []byte(`[{"id":1,"title":"Pills","time":"08:00","days":["Monday"],"type":"MEDICATION"}]`)

	items, err := decodeItems(payload)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Enabled, "absent isEnabled must read as enabled")
}

func TestDecodeItemsExplicitEnabledFalse(t *testing.T) {
	payload := []byte(`[{"id":1,"title":"Pills","time":"08:00","days":["Monday"],"type":"MEDICATION","isEnabled":false}]`)

	items, err := decodeItems(payload)
	require.NoError(t, err)
	assert.False(t, items[0].Enabled)
}

func TestDecodeItemsUnknownTypeIsCorrupt(t *testing.T) {
	payload := []byte(`[{"id":1,"title":"X","time":"08:00","days":["Monday"],"type":"EXERCISE"}]`)

	_, err := decodeItems(payload)
	assert.Error(t, err)
}

func TestDecodeItemsMalformedJSON(t *testing.T) {
	_, err := decodeItems([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeItemsRoundTrip(t *testing.T) {
	original := []ReminderItem{
		{ID: 1, Title: "Pills", Time: "08:00", Days: []string{"Monday", "Friday"}, Type: TypeMedication, Enabled: true},
		{ID: 2, Title: "Water", Time: "10:30", Days: Weekdays(), Type: TypeWater, Enabled: false},
	}

	payload, err := encodeItems(original)
	require.NoError(t, err)

	decoded, err := decodeItems(payload)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

// errStore fails every call with a fixed error.
type errStore struct {
	err error
}

func (s *errStore) Load(ctx context.Context, principal string) ([]ReminderItem, error) {
	return nil, s.err
}

func (s *errStore) Save(ctx context.Context, principal string, items []ReminderItem) error {
	return s.err
}

func TestCachedStoreFallsBackToDurable(t *testing.T) {
	durable := NewMockStore()
	cache := &errStore{err: errors.New("connection refused")}
	logger := zerolog.Nop()
	store := NewCachedStore(durable, cache, &logger)

	want := DefaultReminders(LangEnglish)
	require.NoError(t, durable.Save(context.Background(), "alice", want))

	got, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCachedStoreSaveSurvivesCacheFailure(t *testing.T) {
	durable := NewMockStore()
	cache := &errStore{err: errors.New("connection refused")}
	logger := zerolog.Nop()
	store := NewCachedStore(durable, cache, &logger)

	items := DefaultReminders(LangEnglish)
	require.NoError(t, store.Save(context.Background(), "alice", items))
	assert.Len(t, durable.Saved("alice"), 5)
}

func TestCachedStoreSaveFailsWhenDurableFails(t *testing.T) {
	durable := &errStore{err: errors.New("disk full")}
	cache := NewMockStore()
	logger := zerolog.Nop()
	store := NewCachedStore(durable, cache, &logger)

	err := store.Save(context.Background(), "alice", DefaultReminders(LangEnglish))
	assert.Error(t, err, "the durable store is the source of truth")
}

func TestCachedStoreServesCacheHit(t *testing.T) {
	durable := NewMockStore()
	cache := NewMockStore()
	logger := zerolog.Nop()
	store := NewCachedStore(durable, cache, &logger)

	items := DefaultReminders(LangEnglish)
	require.NoError(t, cache.Save(context.Background(), "alice", items))

	got, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, items, got)
	assert.Empty(t, durable.Saved("alice"), "a cache hit never touches the durable store")
}

func TestCachedStoreCacheMissRepopulates(t *testing.T) {
	durable := NewMockStore()
	cache := NewMockStore()
	logger := zerolog.Nop()
	store := NewCachedStore(durable, cache, &logger)

	items := DefaultReminders(LangEnglish)
	require.NoError(t, durable.Save(context.Background(), "alice", items))

	got, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, items, got)
	assert.Equal(t, items, cache.Saved("alice"), "a miss repopulates the cache")
}

func TestCachedStorePropagatesNoData(t *testing.T) {
	durable := NewMockStore()
	cache := NewMockStore()
	logger := zerolog.Nop()
	store := NewCachedStore(durable, cache, &logger)

	_, err := store.Load(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNoData)
}
