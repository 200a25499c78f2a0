package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/nyviadk/nexus/internal/applog"
	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/bus"
	"github.com/nyviadk/nexus/internal/store"
)

// InboxGroupLabel is the tab-group label applied to unbound windows.
const InboxGroupLabel = "INBOX"

var groupColors = []string{"blue", "red", "yellow", "green", "pink", "purple", "cyan", "orange"}

// onTabUpdated handles a completed navigation (or title change) in a live
// tab. Bound windows get a full window sync; unbound tabs are reconciled
// against the global inbox list.
func (e *Engine) onTabUpdated(ctx context.Context, tab browser.Tab) {
	if tab.Status != "complete" {
		return
	}
	if _, bound := e.co.Binding(tab.WindowID); bound {
		e.SyncWindowToRemote(ctx, tab.WindowID, false)
		return
	}
	if e.co.IsSuppressed(tab.WindowID) || e.isInternal(tab.URL) {
		return
	}

	uid, prevURL, _ := e.co.GetOrAssign(tab.ID, tab.URL)

	e.inboxMu.Lock()
	defer e.inboxMu.Unlock()

	inbox, err := store.InboxTabs(e.db)
	if err != nil {
		applog.Error("inbox.read", err)
		return
	}

	found := false
	enqueue := false
	for i := range inbox {
		if inbox[i].UID != uid {
			continue
		}
		found = true
		urlChanged := inbox[i].URL != tab.URL || (prevURL != "" && prevURL != tab.URL)
		inbox[i].Title = tab.Title
		inbox[i].URL = tab.URL
		inbox[i].Favicon = tab.FavIconURL
		if urlChanged {
			// A real navigation invalidates the old classification. A
			// title-only change never does.
			locked := inbox[i].AI.Locked
			inbox[i].AI = store.AIData{Status: store.AIPending, Locked: locked}
			enqueue = true
		}
		break
	}
	if !found {
		inbox = append(inbox, store.TabRecord{
			UID:       uid,
			Title:     tab.Title,
			URL:       tab.URL,
			Favicon:   tab.FavIconURL,
			Incognito: tab.Incognito,
			AI:        store.AIData{Status: store.AIPending},
		})
		enqueue = true
	}

	if err := store.WriteInboxTabs(e.db, inbox); err != nil {
		applog.Error("inbox.write", err)
		return
	}
	e.bu.Publish(bus.Message{Type: bus.StateUpdated})

	if enqueue {
		item := store.QueueItem{UID: uid, URL: tab.URL, Title: tab.Title, TabHandle: int64(tab.ID)}
		if err := e.q.Enqueue(ctx, []store.QueueItem{item}); err != nil {
			applog.Error("inbox.enqueue", err, "uid", uid)
		}
	}
}

// onTabRemoved releases the tab's fingerprint and propagates the removal
// to the store, unless the whole window is closing (the window-removed
// path owns that cleanup).
func (e *Engine) onTabRemoved(ctx context.Context, tabID browser.TabID, win browser.WindowID, windowClosing bool) {
	uid, had := e.co.UID(tabID)
	e.co.Release(tabID)

	if _, bound := e.co.Binding(win); bound {
		if !windowClosing {
			e.SyncWindowToRemote(ctx, win, true)
		}
		return
	}
	if windowClosing || !had || e.co.IsSuppressed(win) {
		return
	}

	e.inboxMu.Lock()
	defer e.inboxMu.Unlock()

	inbox, err := store.InboxTabs(e.db)
	if err != nil {
		applog.Error("inbox.read", err)
		return
	}
	kept := inbox[:0]
	for _, rec := range inbox {
		if rec.UID != uid {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(inbox) {
		return
	}
	if err := store.WriteInboxTabs(e.db, kept); err != nil {
		applog.Error("inbox.write", err)
		return
	}
	e.bu.Publish(bus.Message{Type: bus.StateUpdated})
}

// SyncWindowToRemote rebuilds the persisted tab list of a bound window
// from live state. fromRemoval marks calls triggered by a tab close; only
// those may delete an emptied window. Idempotent: syncing twice with no
// intervening tab change writes the same document.
func (e *Engine) SyncWindowToRemote(ctx context.Context, win browser.WindowID, fromRemoval bool) {
	if e.co.IsSuppressed(win) {
		return
	}
	binding, bound := e.co.Binding(win)
	if !bound {
		return
	}
	// A failed existence check means "skip", never "delete remote data".
	if !e.br.WindowExists(ctx, win) {
		return
	}
	tabs, err := e.br.TabsInWindow(ctx, win)
	if err != nil {
		applog.Error("sync.tabs", err, "window", int(win))
		return
	}

	doc, err := store.GetWindowDoc(e.db, binding.WorkspaceID, binding.InternalWindowID)
	if err != nil {
		applog.Error("sync.read", err, "workspace", binding.WorkspaceID)
		return
	}
	existing := make(map[string]store.TabRecord)
	title := ""
	if doc != nil {
		title = doc.Title
		for _, rec := range doc.Tabs {
			existing[rec.UID] = rec
		}
	}

	var records []store.TabRecord
	for _, t := range tabs {
		if e.isInternal(t.URL) {
			continue
		}
		uid, _, _ := e.co.GetOrAssign(t.ID, t.URL)
		rec := store.TabRecord{
			UID:       uid,
			Title:     t.Title,
			URL:       t.URL,
			Favicon:   t.FavIconURL,
			Incognito: t.Incognito,
			AI:        store.AIData{Status: store.AIPending},
		}
		if prev, ok := existing[uid]; ok {
			rec.AI = prev.AI
		}
		records = append(records, rec)
	}

	e.UpdateWindowGrouping(ctx, win, &binding)

	if len(records) == 0 && fromRemoval {
		// An empty managed window has no reason to exist.
		if err := store.DeleteWindowDoc(e.db, binding.WorkspaceID, binding.InternalWindowID); err != nil {
			applog.Error("sync.delete", err, "workspace", binding.WorkspaceID)
		}
		if err := e.co.DeleteBinding(win); err != nil {
			applog.Error("sync.unbind", err, "window", int(win))
		}
		if err := e.br.CloseWindow(ctx, win); err != nil {
			applog.Error("sync.close", err, "window", int(win))
		}
		e.bu.Publish(bus.Message{Type: bus.StateUpdated})
		return
	}

	err = store.WriteWindowDoc(e.db, store.WindowDoc{
		WorkspaceID:      binding.WorkspaceID,
		InternalWindowID: binding.InternalWindowID,
		Title:            title,
		IsActive:         true,
		LastActive:       e.now(),
		Tabs:             records,
	})
	if err != nil {
		applog.Error("sync.write", err, "workspace", binding.WorkspaceID)
		return
	}
	e.bu.Publish(bus.Message{Type: bus.StateUpdated})
}

// UpdateWindowGrouping applies the workspace group label and color to all
// non-pinned, non-internal tabs of a window. A nil binding labels the
// window as inbox. Safe to call repeatedly.
func (e *Engine) UpdateWindowGrouping(ctx context.Context, win browser.WindowID, binding *store.Binding) {
	label := InboxGroupLabel
	color := "grey"
	if binding != nil {
		label = fmt.Sprintf("%s (%d)", strings.ToUpper(binding.WorkspaceName), binding.Ordinal)
		color = groupColor(binding.WorkspaceID)
	}

	tabs, err := e.br.TabsInWindow(ctx, win)
	if err != nil {
		applog.Error("group.tabs", err, "window", int(win))
		return
	}
	var ids []browser.TabID
	for _, t := range tabs {
		if t.Pinned || e.isInternal(t.URL) {
			continue
		}
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 {
		return
	}
	if err := e.br.GroupTabs(ctx, win, ids, label, color); err != nil {
		applog.Error("group.apply", err, "window", int(win))
	}
}

func groupColor(workspaceID string) string {
	h := fnv.New32a()
	h.Write([]byte(workspaceID))
	return groupColors[h.Sum32()%uint32(len(groupColors))]
}

// RegisterNewInboxWindow adds the tabs of a freshly appeared unbound
// window to the global inbox, skipping tabs already present (matched by
// logical uid) and internal pages.
func (e *Engine) RegisterNewInboxWindow(ctx context.Context, win browser.WindowID) {
	if _, bound := e.co.Binding(win); bound || e.co.IsSuppressed(win) {
		return
	}
	tabs, err := e.br.TabsInWindow(ctx, win)
	if err != nil {
		// Window vanished during the settle delay; nothing to register.
		return
	}

	e.inboxMu.Lock()
	defer e.inboxMu.Unlock()

	inbox, err := store.InboxTabs(e.db)
	if err != nil {
		applog.Error("inbox.read", err)
		return
	}
	present := make(map[string]bool, len(inbox))
	for _, rec := range inbox {
		present[rec.UID] = true
	}

	var added []store.QueueItem
	for _, t := range tabs {
		if e.isInternal(t.URL) {
			continue
		}
		uid, _, _ := e.co.GetOrAssign(t.ID, t.URL)
		if present[uid] {
			continue
		}
		inbox = append(inbox, store.TabRecord{
			UID:       uid,
			Title:     t.Title,
			URL:       t.URL,
			Favicon:   t.FavIconURL,
			Incognito: t.Incognito,
			AI:        store.AIData{Status: store.AIPending},
		})
		added = append(added, store.QueueItem{UID: uid, URL: t.URL, Title: t.Title, TabHandle: int64(t.ID)})
	}
	if len(added) == 0 {
		return
	}
	if err := store.WriteInboxTabs(e.db, inbox); err != nil {
		applog.Error("inbox.write", err)
		return
	}
	e.bu.Publish(bus.Message{Type: bus.StateUpdated})
	if err := e.q.Enqueue(ctx, added); err != nil {
		applog.Error("inbox.enqueue", err)
	}
}

func (e *Engine) markInactive(b store.Binding) error {
	return store.SetWindowActive(e.db, b.WorkspaceID, b.InternalWindowID, false)
}
