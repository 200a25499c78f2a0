package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nyviadk/nexus/internal/applog"
	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/store"
)

// OpenWorkspace restores every persisted window of a workspace as a live
// browser window, sequentially so progress reporting stays coherent and
// window creation cannot race itself. A workspace with no persisted
// windows falls back to creating one empty window.
func (e *Engine) OpenWorkspace(ctx context.Context, workspaceID, name string) error {
	defer e.setStatus("")

	docs, err := store.ListWindowDocs(e.db, workspaceID)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}
	if len(docs) == 0 {
		return e.CreateNewWindowInWorkspace(ctx, workspaceID, name)
	}

	for i, doc := range docs {
		e.setStatus(fmt.Sprintf("Preparing window %d of %d", i+1, len(docs)))
		if err := e.OpenSpecificWindow(ctx, workspaceID, doc, name, i+1); err != nil {
			return fmt.Errorf("open window %s: %w", doc.InternalWindowID, err)
		}
	}
	return nil
}

// OpenSpecificWindow materializes one persisted window. If the logical
// window is already bound to a live one, that window is focused instead;
// a focus failure means the window vanished, so the stale binding is
// dropped and a fresh window is opened.
func (e *Engine) OpenSpecificWindow(ctx context.Context, workspaceID string, doc store.WindowDoc, name string, ordinal int) error {
	if win, ok := e.co.BindingForWindowDoc(workspaceID, doc.InternalWindowID); ok {
		if err := e.br.FocusWindow(ctx, win); err == nil {
			return nil
		}
		applog.Info("restore.stale", "window", int(win), "workspace", workspaceID)
		if err := e.co.DeleteBinding(win); err != nil {
			applog.Error("restore.unbind", err, "window", int(win))
		}
	}

	e.co.BeginBulk()
	defer e.co.EndBulk()

	urls := make([]string, 0, len(doc.Tabs)+1)
	urls = append(urls, e.cfg.LoaderURL)
	for _, rec := range doc.Tabs {
		if !e.isInternal(rec.URL) {
			urls = append(urls, rec.URL)
		}
	}

	win, tabs, err := e.br.CreateWindow(ctx, urls)
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	e.co.LockWindow(win.ID)
	defer e.co.UnlockWindow(win.ID)

	if len(tabs) > 0 {
		if err := e.br.PinTab(ctx, tabs[0].ID); err != nil {
			applog.Error("restore.pin", err, "window", int(win.ID))
		}
	}

	// Pre-populate fingerprints: persisted uids map onto the created tabs
	// in order, after the loader.
	idx := 0
	for _, rec := range doc.Tabs {
		if e.isInternal(rec.URL) {
			continue
		}
		if idx+1 < len(tabs) {
			e.co.Assign(tabs[idx+1].ID, rec.UID, rec.URL)
		}
		idx++
	}

	binding := store.Binding{
		WorkspaceID:      workspaceID,
		InternalWindowID: doc.InternalWindowID,
		WorkspaceName:    name,
		Ordinal:          ordinal,
	}
	if err := e.co.SetBinding(win.ID, binding); err != nil {
		return fmt.Errorf("persist binding: %w", err)
	}

	e.UpdateWindowGrouping(ctx, win.ID, &binding)

	if err := store.SetWindowActive(e.db, workspaceID, doc.InternalWindowID, true); err != nil {
		applog.Error("restore.activate", err, "workspace", workspaceID)
	}

	if len(urls) > 1 {
		e.waitForWindowLoad(ctx, win.ID)
	}
	return nil
}

// CreateNewWindowInWorkspace opens a fresh window holding only the loader
// tab, mints a new logical window id and binds it.
func (e *Engine) CreateNewWindowInWorkspace(ctx context.Context, workspaceID, name string) error {
	internalID := uuid.NewString()

	count, err := store.CountWindows(e.db, workspaceID)
	if err != nil {
		return fmt.Errorf("count windows: %w", err)
	}
	ordinal := count + 1

	err = func() error {
		e.co.BeginBulk()
		defer e.co.EndBulk()

		win, tabs, err := e.br.CreateWindow(ctx, []string{e.cfg.LoaderURL})
		if err != nil {
			return fmt.Errorf("create window: %w", err)
		}
		if len(tabs) > 0 {
			if err := e.br.PinTab(ctx, tabs[0].ID); err != nil {
				applog.Error("restore.pin", err, "window", int(win.ID))
			}
		}

		binding := store.Binding{
			WorkspaceID:      workspaceID,
			InternalWindowID: internalID,
			WorkspaceName:    name,
			Ordinal:          ordinal,
		}
		if err := e.co.SetBinding(win.ID, binding); err != nil {
			return fmt.Errorf("persist binding: %w", err)
		}
		e.UpdateWindowGrouping(ctx, win.ID, &binding)

		return store.WriteWindowDoc(e.db, store.WindowDoc{
			WorkspaceID:      workspaceID,
			InternalWindowID: internalID,
			IsActive:         true,
			LastActive:       e.now(),
		})
	}()
	if err != nil {
		return err
	}

	// Initial sync now that suppression is lifted.
	if win, ok := e.co.BindingForWindowDoc(workspaceID, internalID); ok {
		e.SyncWindowToRemote(ctx, win, false)
	}
	return nil
}

// ForceSync destructively reloads a bound window's tabs from the persisted
// document: persisted URLs are opened as new tabs first, then pre-existing
// non-pinned tabs are closed. Append-then-purge — an interruption can
// duplicate tabs but never lose them.
func (e *Engine) ForceSync(ctx context.Context, win browser.WindowID) error {
	binding, bound := e.co.Binding(win)
	if !bound {
		return fmt.Errorf("window %d is not bound to a workspace", win)
	}
	doc, err := store.GetWindowDoc(e.db, binding.WorkspaceID, binding.InternalWindowID)
	if err != nil {
		return fmt.Errorf("read window doc: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("no persisted window %s/%s", binding.WorkspaceID, binding.InternalWindowID)
	}

	err = func() error {
		e.co.LockWindow(win)
		e.co.BeginBulk()
		defer e.co.EndBulk()
		defer e.co.UnlockWindow(win)

		before, err := e.br.TabsInWindow(ctx, win)
		if err != nil {
			return fmt.Errorf("list tabs: %w", err)
		}
		var purge []browser.TabID
		for _, t := range before {
			if t.Pinned || e.isInternal(t.URL) {
				continue
			}
			purge = append(purge, t.ID)
		}

		for _, rec := range doc.Tabs {
			if e.isInternal(rec.URL) {
				continue
			}
			tab, err := e.br.CreateTab(ctx, win, rec.URL)
			if err != nil {
				return fmt.Errorf("open %s: %w", rec.URL, err)
			}
			e.co.Assign(tab.ID, rec.UID, rec.URL)
		}

		if err := e.br.CloseTabs(ctx, purge); err != nil {
			applog.Error("forcesync.purge", err, "window", int(win))
		}
		for _, id := range purge {
			e.co.Release(id)
		}

		e.UpdateWindowGrouping(ctx, win, &binding)
		e.waitForWindowLoad(ctx, win)
		return nil
	}()
	if err != nil {
		return err
	}

	e.SyncWindowToRemote(ctx, win, false)
	return nil
}

// waitForWindowLoad polls until every tab in the window reports status
// "complete", up to a fixed attempt budget. On timeout it gives up and
// proceeds — "assume loaded" beats blocking a restoration forever.
func (e *Engine) waitForWindowLoad(ctx context.Context, win browser.WindowID) {
	for attempt := 0; attempt < e.maxLoadPolls; attempt++ {
		tabs, err := e.br.TabsInWindow(ctx, win)
		if err != nil {
			return // window gone; nothing to wait for
		}
		loading := 0
		for _, t := range tabs {
			if t.Status != "complete" {
				loading++
			}
		}
		if loading == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.pollInterval):
		}
	}
	applog.Info("restore.loadtimeout", "window", int(win))
}

// ClaimWindow converts a live ad-hoc window into a tracked workspace
// window and runs the initial sync.
func (e *Engine) ClaimWindow(ctx context.Context, win browser.WindowID, workspaceID, internalWindowID, name string) error {
	if !e.br.WindowExists(ctx, win) {
		return fmt.Errorf("window %d does not exist", win)
	}
	// First claim of a brand-new workspace also creates its store row, so
	// name lookups and the CLI listing see it.
	if err := e.ensureWorkspace(workspaceID, name); err != nil {
		return err
	}
	count, err := store.CountWindows(e.db, workspaceID)
	if err != nil {
		return fmt.Errorf("count windows: %w", err)
	}
	binding := store.Binding{
		WorkspaceID:      workspaceID,
		InternalWindowID: internalWindowID,
		WorkspaceName:    name,
		Ordinal:          count + 1,
	}
	if err := e.co.SetBinding(win, binding); err != nil {
		return fmt.Errorf("persist binding: %w", err)
	}
	e.SyncWindowToRemote(ctx, win, false)
	return nil
}

// ensureWorkspace inserts the workspace row if it does not exist yet,
// attached to the first profile (created as "Default" on first use).
func (e *Engine) ensureWorkspace(workspaceID, name string) error {
	ws, err := store.GetWorkspace(e.db, workspaceID)
	if err != nil {
		return fmt.Errorf("lookup workspace: %w", err)
	}
	if ws != nil {
		return nil
	}

	profiles, err := store.ListProfiles(e.db)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	var profileID string
	if len(profiles) == 0 {
		profileID = uuid.NewString()
		if err := store.CreateProfile(e.db, store.Profile{ID: profileID, Name: "Default"}); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
	} else {
		profileID = profiles[0].ID
	}

	if err := store.CreateWorkspace(e.db, store.Workspace{
		ID:        workspaceID,
		Name:      name,
		ProfileID: profileID,
	}); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	applog.Info("workspace.created", "workspace", workspaceID, "name", name)
	return nil
}

// CloseTabsByUID closes the live tabs matching the given logical uids.
func (e *Engine) CloseTabsByUID(ctx context.Context, uids []string) error {
	ids := e.co.TabsForUIDs(uids)
	if len(ids) == 0 {
		return nil
	}
	return e.br.CloseTabs(ctx, ids)
}

// TriggerAISort enqueues every inbox tab that is currently open and not
// yet classified.
func (e *Engine) TriggerAISort(ctx context.Context) error {
	inbox, err := store.InboxTabs(e.db)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	var items []store.QueueItem
	for _, rec := range inbox {
		if rec.AI.Status == store.AICompleted {
			continue
		}
		tabs := e.co.TabsForUIDs([]string{rec.UID})
		if len(tabs) == 0 {
			continue // not currently open
		}
		items = append(items, store.QueueItem{
			UID:       rec.UID,
			URL:       rec.URL,
			Title:     rec.Title,
			TabHandle: int64(tabs[0]),
		})
	}
	if len(items) == 0 {
		return nil
	}
	return e.q.Enqueue(ctx, items)
}
