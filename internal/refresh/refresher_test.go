package refresh

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"soilguard/internal/alerts"
	"soilguard/internal/model"
	"soilguard/internal/notify"
	"soilguard/internal/storage"
)

type fakeAPI struct {
	sensors  []model.Sensor
	listErr  error
	alerts   map[int64][]model.Alert
	failures map[int64]error
}

func (f *fakeAPI) ListSensors(context.Context) ([]model.Sensor, error) {
	return f.sensors, f.listErr
}

func (f *fakeAPI) SensorAlerts(_ context.Context, id int64) ([]model.Alert, error) {
	if err := f.failures[id]; err != nil {
		return nil, err
	}
	return f.alerts[id], nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	fail map[int64]bool
	sent []int64
}

func (d *fakeDispatcher) Name() string { return "fake" }

func (d *fakeDispatcher) Dispatch(_ context.Context, p notify.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[p.AlertID] {
		return errors.New("channel down")
	}
	d.sent = append(d.sent, p.AlertID)
	return nil
}

type brokenStore struct {
	*storage.MemoryStore
	loadErr   error
	saveErr   error
	afterLoad func()
}

func (b *brokenStore) LoadSeen(ctx context.Context, key string) ([]int64, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	ids, err := b.MemoryStore.LoadSeen(ctx, key)
	if hook := b.afterLoad; hook != nil {
		b.afterLoad = nil
		hook()
	}
	return ids, err
}

func (b *brokenStore) SaveSeen(ctx context.Context, key string, ids []int64) error {
	if b.saveErr != nil {
		return b.saveErr
	}
	return b.MemoryStore.SaveSeen(ctx, key, ids)
}

func al(id, sensor int64, level model.Severity) model.Alert {
	return model.Alert{ID: id, SensorID: sensor, Level: level, Message: "m", Timestamp: time.Unix(id, 0).UTC()}
}

func testAPI() *fakeAPI {
	return &fakeAPI{
		sensors: []model.Sensor{{ID: 1}, {ID: 2}, {ID: 3}},
		alerts: map[int64][]model.Alert{
			1: {al(5, 1, model.SeverityAlerta), al(2, 1, model.SeverityOk)},
			2: {al(3, 2, model.SeverityCritico)},
		},
		failures: map[int64]error{3: errors.New("timeout")},
	}
}

func TestRunNotifiesNewAlertsOnce(t *testing.T) {
	store := storage.NewMemory()
	disp := &fakeDispatcher{}
	r := New(testAPI(), store, disp, alerts.NewStore(10), nil, Options{})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Feed, 3)
	require.Equal(t, int64(5), res.Feed[0].ID)
	require.Len(t, res.Notified, 2)
	require.Equal(t, []int64{5, 3}, disp.sent)
	require.Equal(t, []int64{3, 5}, res.Seen)

	require.Len(t, res.Warnings, 1)
	require.Equal(t, OpFetch, res.Warnings[0].Op)
	require.Equal(t, int64(3), res.Warnings[0].SensorID)

	stored, err := store.LoadSeen(context.Background(), "seenAlertIds")
	require.NoError(t, err)
	require.Equal(t, []int64{3, 5}, stored)
	require.Len(t, store.Notifications(), 2)

	again, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, again.Notified)
	require.Len(t, disp.sent, 2)
	require.Len(t, r.Feed().List(0), 3)
}

func TestRunListFailureIsFatal(t *testing.T) {
	api := testAPI()
	api.listErr = errors.New("unauthorized")
	_, err := New(api, nil, &fakeDispatcher{}, nil, nil, Options{}).Run(context.Background())
	require.ErrorContains(t, err, "unauthorized")
}

func TestDispatchFailureIsRetried(t *testing.T) {
	store := storage.NewMemory()
	disp := &fakeDispatcher{fail: map[int64]bool{3: true}}
	r := New(testAPI(), store, disp, nil, nil, Options{})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{5}, res.Seen)
	var dispatchWarn *Warning
	for i := range res.Warnings {
		if res.Warnings[i].Op == OpDispatch {
			dispatchWarn = &res.Warnings[i]
		}
	}
	require.NotNil(t, dispatchWarn)
	require.Equal(t, int64(3), dispatchWarn.AlertID)

	disp.fail = nil
	res, err = r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Notified, 1)
	require.Equal(t, int64(3), res.Notified[0].ID)
	require.Equal(t, []int64{5, 3}, res.Seen)
}

func TestPersistFailureStillDispatches(t *testing.T) {
	store := &brokenStore{MemoryStore: storage.NewMemory(), saveErr: errors.New("disk full")}
	disp := &fakeDispatcher{}
	res, err := New(testAPI(), store, disp, nil, nil, Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, disp.sent, 2)

	var persist Warning
	for _, w := range res.Warnings {
		if w.Op == OpPersist {
			persist = w
		}
	}
	require.Equal(t, OpPersist, persist.Op)
	require.ErrorContains(t, persist, "disk full")
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := &brokenStore{MemoryStore: storage.NewMemory(), loadErr: errors.New("bucket gone")}
	require.NoError(t, store.MemoryStore.SaveSeen(ctx, "seenAlertIds", []int64{5, 3}))
	disp := &fakeDispatcher{}

	res, err := New(testAPI(), store, disp, nil, nil, Options{}).Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Notified, 2)

	ops := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		ops = append(ops, w.Op)
	}
	require.Contains(t, ops, OpLoadSeen)
	require.Contains(t, ops, OpPersist)

	stored, err := store.MemoryStore.LoadSeen(ctx, "seenAlertIds")
	require.NoError(t, err)
	require.Equal(t, []int64{5, 3}, stored)
}

func TestPersistMergesConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	store := &brokenStore{MemoryStore: mem}
	store.afterLoad = func() {
		require.NoError(t, mem.SaveSeen(ctx, "seenAlertIds", []int64{42}))
	}

	res, err := New(testAPI(), store, &fakeDispatcher{}, nil, nil, Options{}).Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Notified, 2)
	require.Equal(t, []int64{42, 3, 5}, res.Seen)

	stored, err := mem.LoadSeen(ctx, "seenAlertIds")
	require.NoError(t, err)
	require.Equal(t, []int64{42, 3, 5}, stored)
}

func TestPendingOverCapacityIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := New(testAPI(), storage.NewMemory(), &fakeDispatcher{}, nil, logger, Options{SeenCapacity: 1})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Notified, 2)
	require.Equal(t, []int64{5}, res.Seen)
	require.Contains(t, buf.String(), "pending alerts exceed seen capacity")
	require.Contains(t, buf.String(), `"capacity":1`)
}

func TestWarningUnwrap(t *testing.T) {
	base := errors.New("boom")
	w := Warning{Op: OpFetch, SensorID: 2, Err: base}
	require.ErrorIs(t, w, base)
	require.Equal(t, "fetch sensor 2: boom", w.Error())
}
