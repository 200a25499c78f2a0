// Package queue drives the AI classification pipeline: a persisted FIFO
// processed one item per drain, rate limited against the external
// classifier and guarded by a persisted lock that self-expires so a killed
// process can never wedge it. Every drain re-reads queue and lock state
// from the store — in-memory copies are not trusted across suspension
// points.
package queue

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/nyviadk/nexus/internal/applog"
	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/bus"
	"github.com/nyviadk/nexus/internal/classify"
	"github.com/nyviadk/nexus/internal/store"
	"github.com/nyviadk/nexus/internal/track"
)

const (
	lockExpiry      = 60 * time.Second
	minCallSpacing  = 5 * time.Second
	continueDelay   = 250 * time.Millisecond
	suppressedRetry = 10 * time.Second
	debounceWindow  = 30 * time.Second
)

// Queue is the classification work queue engine.
type Queue struct {
	db *sql.DB
	br browser.Browser
	cl classify.Classifier
	bu *bus.Bus
	co *track.Coordinator

	mu       sync.Mutex
	debounce map[string]time.Time // uid -> suppression expiry
	healthy  bool

	now       func() time.Time
	schedule  func(time.Duration) // requests a future drain attempt
	fetchMeta func(url string) (browser.PageMeta, error)
}

// New returns a queue engine. Schedule requests are dropped until
// SetScheduler is called.
func New(db *sql.DB, br browser.Browser, cl classify.Classifier, bu *bus.Bus, co *track.Coordinator) *Queue {
	return &Queue{
		db:        db,
		br:        br,
		cl:        cl,
		bu:        bu,
		co:        co,
		debounce:  make(map[string]time.Time),
		healthy:   true,
		now:       time.Now,
		schedule:  func(time.Duration) {},
		fetchMeta: classify.FetchPageMeta,
	}
}

// SetScheduler installs the callback used to request a drain attempt after
// a delay (the recurring-alarm abstraction).
func (q *Queue) SetScheduler(fn func(time.Duration)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.schedule = fn
}

func (q *Queue) requestDrain(d time.Duration) {
	q.mu.Lock()
	fn := q.schedule
	q.mu.Unlock()
	fn(d)
}

// Healthy reports whether the last classifier call succeeded.
func (q *Queue) Healthy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.healthy
}

func (q *Queue) setHealthy(ok bool) {
	q.mu.Lock()
	changed := q.healthy != ok
	q.healthy = ok
	q.mu.Unlock()
	if changed {
		v := ok
		q.bu.Publish(bus.Message{Type: bus.AIStatusUpdate, Healthy: &v})
	}
}

// Enqueue adds candidate items to the persisted queue. Uids already
// enqueued, or enqueued within the debounce window, are dropped. Survivors
// trigger an immediate drain attempt.
func (q *Queue) Enqueue(ctx context.Context, items []store.QueueItem) error {
	now := q.now()

	q.mu.Lock()
	var keep []store.QueueItem
	for _, it := range items {
		if exp, ok := q.debounce[it.UID]; ok && now.Before(exp) {
			continue
		}
		q.debounce[it.UID] = now.Add(debounceWindow)
		keep = append(keep, it)
	}
	// Drop expired entries while we hold the lock.
	for uid, exp := range q.debounce {
		if !now.Before(exp) {
			delete(q.debounce, uid)
		}
	}
	q.mu.Unlock()

	if len(keep) == 0 {
		return nil
	}
	if err := store.AppendQueue(q.db, keep); err != nil {
		return err
	}
	applog.Info("queue.enqueued", "count", len(keep))
	q.requestDrain(0)
	return nil
}

// Drain performs one drain attempt: at most one item is classified. It is
// safe to call from concurrent triggers — the persisted lock serializes
// actual processing.
func (q *Queue) Drain(ctx context.Context) error {
	// Bulk window operations own the tabs right now; come back later.
	if q.co.BulkInFlight() {
		q.requestDrain(suppressedRetry)
		return nil
	}

	items, err := store.LoadQueue(q.db)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	state, err := store.LoadQueueState(q.db)
	if err != nil {
		return err
	}

	now := q.now()
	if state.Processing && now.Sub(state.LockedAt) < lockExpiry {
		// Another drain is in flight (or a dead one within its safety
		// window). Either way, not ours.
		return nil
	}

	// Global rate limit on the external classifier.
	if !state.LastCallAt.IsZero() {
		if since := now.Sub(state.LastCallAt); since < minCallSpacing {
			q.requestDrain(minCallSpacing - since)
			return nil
		}
	}

	if err := store.SetProcessing(q.db, true, now); err != nil {
		return err
	}
	released := false
	defer func() {
		// A failure past this point must not leave the lock held.
		if !released {
			if err := store.SetProcessing(q.db, false, time.Time{}); err != nil {
				applog.Error("queue.unlock", err)
			}
		}
	}()

	head := items[0]
	q.bu.Publish(bus.Message{Type: bus.AIStatusUpdate, UID: head.UID, Status: store.AIProcessing})
	if err := store.BumpAttempts(q.db, head.UID); err != nil {
		applog.Error("queue.attempts", err, "uid", head.UID)
	}

	meta := q.extractMeta(ctx, head)

	result, err := q.cl.Classify(ctx, head.Title, head.URL, meta)
	if err != nil {
		// The item is still consumed: one bad item must not block the
		// queue forever. At-most-once per enqueue.
		applog.Error("queue.classify", err, "uid", head.UID, "url", head.URL)
		q.setHealthy(false)
	} else {
		q.setHealthy(true)
		updated, err := store.UpdateInboxTabAI(q.db, head.UID, store.AIData{
			Status:      store.AICompleted,
			Category:    result.Category,
			Confidence:  result.Confidence,
			Reasoning:   result.Reasoning,
			LastChecked: q.now(),
		})
		if err != nil {
			applog.Error("queue.write", err, "uid", head.UID)
		} else if !updated {
			// Tab deleted (or locked) while we classified; nothing to do.
			applog.Info("queue.skipped", "uid", head.UID)
		} else {
			q.bu.Publish(bus.Message{Type: bus.AIStatusUpdate, UID: head.UID, Status: store.AICompleted})
			q.bu.Publish(bus.Message{Type: bus.StateUpdated})
		}
	}

	// Remove only the processed uid, from a fresh read — concurrent
	// enqueues during classification must survive.
	if err := store.RemoveFromQueue(q.db, head.UID); err != nil {
		applog.Error("queue.remove", err, "uid", head.UID)
	}

	done := q.now()
	if err := store.SetProcessing(q.db, false, done); err != nil {
		applog.Error("queue.unlock", err)
	}
	released = true
	if err := store.SetLastCall(q.db, done); err != nil {
		applog.Error("queue.lastcall", err)
	}

	remaining, err := store.LoadQueue(q.db)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		q.requestDrain(continueDelay)
	}
	return nil
}

// extractMeta pulls page metadata for the head item. Best-effort: the tab
// may be gone, the bridge may be down. Empty metadata is acceptable.
func (q *Queue) extractMeta(ctx context.Context, item store.QueueItem) browser.PageMeta {
	if item.TabHandle != 0 {
		tab, err := q.br.Tab(ctx, browser.TabID(item.TabHandle))
		if err == nil && tab.URL == item.URL {
			meta, err := q.br.ExtractPageMeta(ctx, tab.ID)
			if err == nil {
				return meta
			}
			applog.Info("queue.meta.script", "uid", item.UID, "err", err)
		}
	}
	meta, err := q.fetchMeta(item.URL)
	if err != nil {
		applog.Info("queue.meta.fetch", "uid", item.UID, "err", err)
		return browser.PageMeta{}
	}
	return meta
}
