// Package engine is the background coordination service: it reconciles
// live browser window/tab state with the persisted workspace store, drives
// workspace restoration, and routes UI requests. It owns no durable state
// of its own — everything it needs survives in the store, and the
// coordinator caches are rebuilt from there on startup.
package engine

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/nyviadk/nexus/internal/actions"
	"github.com/nyviadk/nexus/internal/applog"
	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/bus"
	"github.com/nyviadk/nexus/internal/queue"
	"github.com/nyviadk/nexus/internal/track"
)

// Config carries the engine's URL knobs.
type Config struct {
	// DashboardPrefix marks our own extension pages; tabs under it are
	// never persisted or classified.
	DashboardPrefix string
	// LoaderURL is the internal page opened (and pinned) as the first tab
	// of every restored window.
	LoaderURL string
}

// Engine wires the sync engine, the lifecycle orchestrator and the router
// around one coordinator and one store.
type Engine struct {
	db  *sql.DB
	br  browser.Browser
	co  *track.Coordinator
	q   *queue.Queue
	bu  *bus.Bus
	act *actions.Dispatcher
	cfg Config

	mu     sync.Mutex
	status string

	// inboxMu serializes whole-list inbox rewrites. Tab events arrive on
	// the event loop, but the delayed register callback and bridge request
	// handlers run on their own goroutines.
	inboxMu sync.Mutex

	// Timer knobs, shortened in tests.
	registerDelay time.Duration
	pollInterval  time.Duration
	maxLoadPolls  int

	now func() time.Time
}

// New assembles an engine. Call Start before feeding events.
func New(db *sql.DB, br browser.Browser, co *track.Coordinator, q *queue.Queue, bu *bus.Bus, act *actions.Dispatcher, cfg Config) *Engine {
	return &Engine{
		db:            db,
		br:            br,
		co:            co,
		q:             q,
		bu:            bu,
		act:           act,
		cfg:           cfg,
		registerDelay: time.Second,
		pollInterval:  500 * time.Millisecond,
		maxLoadPolls:  60,
		now:           time.Now,
	}
}

// Start re-validates persisted bindings against live windows and rebuilds
// the fingerprint map. Safe to call after every process restart.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.co.LoadAndValidate(ctx); err != nil {
		return err
	}
	e.co.RebuildFingerprints(ctx)
	return nil
}

// HandleEvent dispatches one browser event. Errors are absorbed here:
// sync is eventually consistent and the next event retries naturally.
func (e *Engine) HandleEvent(ctx context.Context, ev browser.Event) {
	switch ev := ev.(type) {
	case browser.TabUpdated:
		e.onTabUpdated(ctx, ev.Tab)
	case browser.TabRemoved:
		e.onTabRemoved(ctx, ev.TabID, ev.WindowID, ev.WindowClosing)
	case browser.WindowCreated:
		e.onWindowCreated(ctx, ev.Window)
	case browser.WindowRemoved:
		e.onWindowRemoved(ctx, ev.WindowID)
	case browser.WindowFocused:
		e.refreshMenuNames(ev.WindowID)
	case browser.TabActivated:
		e.refreshMenuNames(ev.WindowID)
	case browser.MenuInvoked:
		e.onMenuInvoked(ctx, ev)
	}
}

func (e *Engine) onWindowCreated(ctx context.Context, w browser.Window) {
	if _, bound := e.co.Binding(w.ID); bound {
		return
	}
	// Let the window's initial tabs settle before registering them.
	time.AfterFunc(e.registerDelay, func() {
		e.RegisterNewInboxWindow(ctx, w.ID)
	})
}

func (e *Engine) onWindowRemoved(ctx context.Context, win browser.WindowID) {
	b, bound := e.co.Binding(win)
	if !bound {
		return
	}
	applog.Info("window.closed", "window", int(win), "workspace", b.WorkspaceID)
	if err := e.markInactive(b); err != nil {
		applog.Error("window.deactivate", err, "workspace", b.WorkspaceID)
	}
	if err := e.co.DeleteBinding(win); err != nil {
		applog.Error("window.unbind", err, "window", int(win))
	}
	e.bu.Publish(bus.Message{Type: bus.StateUpdated})
}

func (e *Engine) refreshMenuNames(win browser.WindowID) {
	b, ok := e.co.Binding(win)
	if !ok {
		return
	}
	e.act.RefreshName(b.WorkspaceID)
	if name := e.act.Name(b.WorkspaceID); name != "" {
		e.bu.Publish(bus.Message{Type: bus.MenuContextUpdate, UID: b.WorkspaceID, Name: name})
	}
}

func (e *Engine) onMenuInvoked(ctx context.Context, ev browser.MenuInvoked) {
	var err error
	switch ev.Action {
	case actions.ActionSaveSelection:
		err = e.act.AppendSelectionToNote(ev.WindowID, ev.Selection, ev.PageURL, ev.PageTitle)
	case actions.ActionSaveLink:
		err = e.act.SaveLinkForLater(ev.WindowID, ev.LinkURL, ev.PageTitle)
	default:
		applog.Info("menu.unknown", "action", ev.Action)
		return
	}
	if err != nil {
		applog.Error("menu.dispatch", err, "action", ev.Action)
		return
	}
	e.bu.Publish(bus.Message{Type: bus.StateUpdated})
}

func (e *Engine) setStatus(s string) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
	e.bu.Publish(bus.Message{Type: bus.RestorationStatusChange, Status: s})
}

// Status returns the current human-readable restoration status, empty
// when idle.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) isInternal(url string) bool {
	return browser.IsInternalURL(url, e.cfg.DashboardPrefix)
}
