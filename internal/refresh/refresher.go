// Package refresh runs the alert refresh cycle: fetch every sensor's alerts,
// aggregate them into one feed, notify the ones not seen before and persist
// the seen list.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"soilguard/internal/alerts"
	"soilguard/internal/metrics"
	"soilguard/internal/model"
	"soilguard/internal/notify"
	"soilguard/internal/storage"
)

// SensorAPI is the slice of the backend client the refresher uses.
type SensorAPI interface {
	ListSensors(ctx context.Context) ([]model.Sensor, error)
	SensorAlerts(ctx context.Context, sensorID int64) ([]model.Alert, error)
}

const (
	OpFetch    = "fetch"
	OpLoadSeen = "load_seen"
	OpDispatch = "dispatch"
	OpAudit    = "audit"
	OpPersist  = "persist"
)

// Warning is a non-fatal problem met during a refresh.
type Warning struct {
	Op       string
	SensorID int64
	AlertID  int64
	Err      error
}

func (w Warning) Error() string {
	switch {
	case w.AlertID != 0:
		return fmt.Sprintf("%s alert %d: %v", w.Op, w.AlertID, w.Err)
	case w.SensorID != 0:
		return fmt.Sprintf("%s sensor %d: %v", w.Op, w.SensorID, w.Err)
	}
	return fmt.Sprintf("%s: %v", w.Op, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }

type Result struct {
	Feed     []model.Alert
	Notified []model.Alert
	Warnings []Warning
	Seen     []int64
}

type Options struct {
	SeenKey      string
	SeenCapacity int
	Concurrency  int
}

type Refresher struct {
	api        SensorAPI
	store      storage.Store
	dispatcher notify.Dispatcher
	feed       *alerts.Store
	logger     *slog.Logger
	opts       Options

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(api SensorAPI, store storage.Store, dispatcher notify.Dispatcher, feed *alerts.Store, logger *slog.Logger, opts Options) *Refresher {
	if opts.SeenKey == "" {
		opts.SeenKey = "seenAlertIds"
	}
	if opts.SeenCapacity <= 0 {
		opts.SeenCapacity = alerts.DefaultSeenCapacity
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if store == nil {
		store = storage.NewMemory()
	}
	if dispatcher == nil {
		dispatcher = notify.NewLogDispatcher(logger)
	}
	if feed == nil {
		feed = alerts.NewStore(0)
	}
	return &Refresher{
		api:        api,
		store:      store,
		dispatcher: dispatcher,
		feed:       feed,
		logger:     logger,
		opts:       opts,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (r *Refresher) Feed() *alerts.Store { return r.feed }

// Run refreshes against the configured seen key. Only a failure to list
// sensors is returned as an error; everything else becomes a Warning.
func (r *Refresher) Run(ctx context.Context) (Result, error) {
	return r.RunKey(ctx, r.opts.SeenKey)
}

func (r *Refresher) RunKey(ctx context.Context, key string) (Result, error) {
	start := time.Now()
	sensors, err := r.api.ListSensors(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list sensors: %w", err)
	}

	perSensor, warnings := r.fetchAll(ctx, sensors)
	feed := alerts.Aggregate(perSensor)
	r.feed.Replace(feed)

	lock := r.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	stored, err := r.store.LoadSeen(ctx, key)
	if err != nil {
		warnings = append(warnings, Warning{Op: OpLoadSeen, Err: err})
		stored = nil
	}
	seen := alerts.NewSeenSet(r.opts.SeenCapacity, stored...)
	pending, _ := alerts.FilterNew(feed, seen)
	if len(pending) > seen.Capacity() && r.logger != nil {
		r.logger.Warn("pending alerts exceed seen capacity; the oldest will be notified again next cycle",
			"seen_key", key,
			"pending", len(pending),
			"capacity", seen.Capacity(),
		)
	}

	delivered := make([]model.Alert, 0, len(pending))
	for _, a := range pending {
		p := notify.NewPayload(a)
		if err := r.dispatcher.Dispatch(ctx, p); err != nil {
			warnings = append(warnings, Warning{Op: OpDispatch, SensorID: a.SensorID, AlertID: a.ID, Err: err})
			continue
		}
		delivered = append(delivered, a)
		rec := storage.Notification{ID: p.ID, Channel: r.dispatcher.Name(), Alert: a, DeliveredAt: time.Now().UTC()}
		if err := r.store.RecordNotification(ctx, rec); err != nil {
			warnings = append(warnings, Warning{Op: OpAudit, SensorID: a.SensorID, AlertID: a.ID, Err: err})
		}
	}

	next := alerts.MarkSeen(seen, delivered)
	if len(delivered) > 0 {
		// AppendSeen re-reads the stored list, so IDs written by another
		// instance survive and a list that cannot be read is never overwritten.
		merged, err := storage.AppendSeen(ctx, r.store, key, deliveredIDs(delivered), seen.Capacity())
		if err != nil {
			warnings = append(warnings, Warning{Op: OpPersist, Err: err})
		} else {
			next = alerts.NewSeenSet(seen.Capacity(), merged...)
		}
	}

	for _, w := range warnings {
		metrics.RecordRefreshWarning(w.Op)
		if r.logger != nil {
			r.logger.Warn("refresh warning", "op", w.Op, "sensor_id", w.SensorID, "alert_id", w.AlertID, "err", w.Err)
		}
	}
	metrics.RecordRefresh(time.Since(start), key, next.Len())
	if r.logger != nil {
		r.logger.Info("refresh done",
			"seen_key", key,
			"sensors", len(sensors),
			"feed", len(feed),
			"notified", len(delivered),
			"warnings", len(warnings),
		)
	}
	return Result{Feed: feed, Notified: delivered, Warnings: warnings, Seen: next.IDs()}, nil
}

// fetchAll pulls alerts for every sensor in parallel. A failing sensor is
// left out of the map and reported as a warning.
func (r *Refresher) fetchAll(ctx context.Context, sensors []model.Sensor) (map[int64][]model.Alert, []Warning) {
	var (
		mu        sync.Mutex
		perSensor = make(map[int64][]model.Alert, len(sensors))
		warnings  []Warning
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, s := range sensors {
		g.Go(func() error {
			list, err := r.api.SensorAlerts(gctx, s.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, Warning{Op: OpFetch, SensorID: s.ID, Err: err})
				return nil
			}
			perSensor[s.ID] = list
			return nil
		})
	}
	_ = g.Wait()
	sortWarnings(warnings)
	return perSensor, warnings
}

func (r *Refresher) lockFor(key string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

func sortWarnings(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].SensorID < ws[j].SensorID })
}

// deliveredIDs lists the IDs in ascending order, the order MarkSeen uses.
func deliveredIDs(delivered []model.Alert) []int64 {
	ids := make([]int64, 0, len(delivered))
	for _, a := range delivered {
		ids = append(ids, a.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
