// Package track owns the live coordination state of the engine: the
// window-binding map, the tab fingerprint map, the bulk-operation counter
// and the per-window lock set. All of it is cache — bindings are persisted
// write-through as a list and re-validated on startup, fingerprints are
// rebuilt on demand by URL matching against persisted tab lists.
package track

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"
	"github.com/nyviadk/nexus/internal/applog"
	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/store"
)

type fingerprint struct {
	uid     string
	lastURL string
}

// Coordinator holds the cross-cutting mutable state shared by the sync
// engine, the lifecycle orchestrator and the classification queue.
type Coordinator struct {
	db *sql.DB
	br browser.Browser

	mu           sync.Mutex
	bindings     map[browser.WindowID]store.Binding
	fingerprints map[browser.TabID]fingerprint
	restorations int
	locked       map[browser.WindowID]bool
}

// New returns an empty coordinator. Call LoadAndValidate before use.
func New(db *sql.DB, br browser.Browser) *Coordinator {
	return &Coordinator{
		db:           db,
		br:           br,
		bindings:     make(map[browser.WindowID]store.Binding),
		fingerprints: make(map[browser.TabID]fingerprint),
		locked:       make(map[browser.WindowID]bool),
	}
}

// LoadAndValidate reloads the persisted binding list, drops entries whose
// physical window no longer exists, marks their remote window documents
// inactive (best-effort) and writes the cleaned list back.
func (c *Coordinator) LoadAndValidate(ctx context.Context) error {
	persisted, err := store.LoadBindings(c.db)
	if err != nil {
		return err
	}

	live := make(map[browser.WindowID]store.Binding)
	var kept []store.Binding
	for _, b := range persisted {
		id := browser.WindowID(b.WindowHandle)
		if c.br.WindowExists(ctx, id) {
			live[id] = b
			kept = append(kept, b)
			continue
		}
		applog.Info("bindings.stale", "window", b.WindowHandle, "workspace", b.WorkspaceID)
		// Mapping consistency outranks remote flag accuracy.
		if err := store.SetWindowActive(c.db, b.WorkspaceID, b.InternalWindowID, false); err != nil {
			applog.Error("bindings.deactivate", err, "workspace", b.WorkspaceID)
		}
	}

	c.mu.Lock()
	c.bindings = live
	c.mu.Unlock()

	return store.SaveBindings(c.db, kept)
}

// Binding returns the binding for a physical window, if any.
func (c *Coordinator) Binding(win browser.WindowID) (store.Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bindings[win]
	return b, ok
}

// BindingForWindowDoc returns the physical window currently bound to the
// given logical window, if any.
func (c *Coordinator) BindingForWindowDoc(workspaceID, internalWindowID string) (browser.WindowID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, b := range c.bindings {
		if b.WorkspaceID == workspaceID && b.InternalWindowID == internalWindowID {
			return id, true
		}
	}
	return 0, false
}

// Bindings returns a snapshot of all live bindings.
func (c *Coordinator) Bindings() map[browser.WindowID]store.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[browser.WindowID]store.Binding, len(c.bindings))
	for k, v := range c.bindings {
		out[k] = v
	}
	return out
}

// SetBinding installs a binding and persists the full list.
func (c *Coordinator) SetBinding(win browser.WindowID, b store.Binding) error {
	b.WindowHandle = int64(win)
	c.mu.Lock()
	c.bindings[win] = b
	list := c.bindingListLocked()
	c.mu.Unlock()
	return store.SaveBindings(c.db, list)
}

// DeleteBinding drops a binding and persists the full list.
func (c *Coordinator) DeleteBinding(win browser.WindowID) error {
	c.mu.Lock()
	delete(c.bindings, win)
	list := c.bindingListLocked()
	c.mu.Unlock()
	return store.SaveBindings(c.db, list)
}

func (c *Coordinator) bindingListLocked() []store.Binding {
	out := make([]store.Binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		out = append(out, b)
	}
	return out
}

// GetOrAssign returns the logical uid for a physical tab, minting a new one
// if the tab was never seen. It also reports the previously recorded URL,
// which callers compare against the current one to decide whether a
// navigation happened.
func (c *Coordinator) GetOrAssign(tab browser.TabID, url string) (uid, prevURL string, existed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fp, ok := c.fingerprints[tab]; ok {
		c.fingerprints[tab] = fingerprint{uid: fp.uid, lastURL: url}
		return fp.uid, fp.lastURL, true
	}
	uid = uuid.NewString()
	c.fingerprints[tab] = fingerprint{uid: uid, lastURL: url}
	return uid, "", false
}

// Assign force-installs a fingerprint, used when restoration opens tabs
// whose logical uids are already known.
func (c *Coordinator) Assign(tab browser.TabID, uid, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fingerprints[tab] = fingerprint{uid: uid, lastURL: url}
}

// UID returns the logical uid of a tab without minting.
func (c *Coordinator) UID(tab browser.TabID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fp, ok := c.fingerprints[tab]
	return fp.uid, ok
}

// TabsForUIDs resolves logical uids back to physical tab handles.
func (c *Coordinator) TabsForUIDs(uids []string) []browser.TabID {
	want := make(map[string]bool, len(uids))
	for _, u := range uids {
		want[u] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []browser.TabID
	for id, fp := range c.fingerprints {
		if want[fp.uid] {
			out = append(out, id)
		}
	}
	return out
}

// Release drops a tab's fingerprint (tab closed).
func (c *Coordinator) Release(tab browser.TabID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fingerprints, tab)
}

// RebuildFingerprints correlates live tabs with persisted records after a
// restart. Unbound, unlocked windows are matched against the global inbox
// list; bound windows against their own window document. Matching is URL
// equality (plus incognito equality) over a consume-on-match pool so one
// persisted record never matches two physical tabs. Best-effort: failures
// are logged and the affected tabs stay unfingerprinted, to be re-added
// as new.
func (c *Coordinator) RebuildFingerprints(ctx context.Context) {
	windows, err := c.br.Windows(ctx)
	if err != nil {
		applog.Error("fingerprint.windows", err)
		return
	}

	inbox, err := store.InboxTabs(c.db)
	if err != nil {
		applog.Error("fingerprint.inbox", err)
		inbox = nil
	}
	pool := make([]*store.TabRecord, len(inbox))
	for i := range inbox {
		pool[i] = &inbox[i]
	}

	for _, w := range windows {
		if _, bound := c.Binding(w.ID); bound || c.isLocked(w.ID) {
			continue
		}
		c.matchWindow(ctx, w, pool)
	}

	for id, b := range c.Bindings() {
		doc, err := store.GetWindowDoc(c.db, b.WorkspaceID, b.InternalWindowID)
		if err != nil || doc == nil {
			if err != nil {
				applog.Error("fingerprint.windowdoc", err, "workspace", b.WorkspaceID)
			}
			continue
		}
		wsPool := make([]*store.TabRecord, len(doc.Tabs))
		for i := range doc.Tabs {
			wsPool[i] = &doc.Tabs[i]
		}
		c.matchWindow(ctx, browser.Window{ID: id}, wsPool)
	}
}

func (c *Coordinator) matchWindow(ctx context.Context, w browser.Window, pool []*store.TabRecord) {
	tabs, err := c.br.TabsInWindow(ctx, w.ID)
	if err != nil {
		applog.Error("fingerprint.tabs", err, "window", int(w.ID))
		return
	}
	for _, t := range tabs {
		if _, tracked := c.UID(t.ID); tracked {
			continue
		}
		for i, rec := range pool {
			if rec == nil || rec.URL != t.URL || rec.Incognito != t.Incognito {
				continue
			}
			c.Assign(t.ID, rec.UID, t.URL)
			pool[i] = nil // consumed
			break
		}
	}
}

// BeginBulk marks the start of a bulk window operation (restoration,
// force-sync). While any bulk operation is in flight, reactive sync and
// queue draining are suppressed.
func (c *Coordinator) BeginBulk() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restorations++
}

// EndBulk marks the end of a bulk window operation. The counter never
// goes negative.
func (c *Coordinator) EndBulk() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restorations == 0 {
		applog.Error("bulk.underflow", nil)
		return
	}
	c.restorations--
}

// BulkInFlight reports whether any bulk window operation is running.
func (c *Coordinator) BulkInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restorations > 0
}

// LockWindow suppresses sync for one window during a bulk rewrite.
func (c *Coordinator) LockWindow(win browser.WindowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked[win] = true
}

// UnlockWindow releases a per-window lock.
func (c *Coordinator) UnlockWindow(win browser.WindowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locked, win)
}

func (c *Coordinator) isLocked(win browser.WindowID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked[win]
}

// IsSuppressed reports whether reactive sync must skip this window: either
// the window itself is lock-held or a bulk operation is in flight.
func (c *Coordinator) IsSuppressed(win browser.WindowID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked[win] || c.restorations > 0
}
