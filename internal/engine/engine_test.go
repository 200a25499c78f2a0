package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nyviadk/nexus/internal/actions"
	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/bus"
	"github.com/nyviadk/nexus/internal/classify"
	"github.com/nyviadk/nexus/internal/queue"
	"github.com/nyviadk/nexus/internal/store"
	"github.com/nyviadk/nexus/internal/track"
)

const (
	testLoader = "moz-extension://nexus/loader.html"
	testDash   = "moz-extension://nexus/dashboard"
)

type stubClassifier struct{}

func (stubClassifier) Classify(ctx context.Context, title, url string, meta browser.PageMeta) (classify.Result, error) {
	return classify.Result{Category: "Work", Confidence: 80}, nil
}

type engFixture struct {
	db   *sql.DB
	fake *browser.Fake
	co   *track.Coordinator
	bu   *bus.Bus
	e    *Engine
}

func newEngine(t *testing.T) *engFixture {
	t.Helper()
	db, err := store.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fake := browser.NewFake()
	co := track.New(db, fake)
	bu := bus.New()
	q := queue.New(db, fake, stubClassifier{}, bu, co)
	e := New(db, fake, co, q, bu, actions.New(db, co), Config{
		DashboardPrefix: testDash,
		LoaderURL:       testLoader,
	})
	e.pollInterval = time.Millisecond
	e.maxLoadPolls = 3
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return &engFixture{db: db, fake: fake, co: co, bu: bu, e: e}
}

func (f *engFixture) bind(t *testing.T, win browser.WindowID, wsID, internalID, name string) {
	t.Helper()
	err := f.co.SetBinding(win, store.Binding{
		WorkspaceID:      wsID,
		InternalWindowID: internalID,
		WorkspaceName:    name,
		Ordinal:          1,
	})
	if err != nil {
		t.Fatalf("SetBinding: %v", err)
	}
}

func TestSyncWindowToRemoteIsIdempotent(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com", "http://b.com")
	f.bind(t, win, "ws1", "w1", "Work")

	f.e.SyncWindowToRemote(ctx, win, false)
	first, err := store.GetWindowDoc(f.db, "ws1", "w1")
	if err != nil || first == nil {
		t.Fatalf("first sync wrote nothing: %v", err)
	}

	f.e.SyncWindowToRemote(ctx, win, false)
	second, _ := store.GetWindowDoc(f.db, "ws1", "w1")

	if !reflect.DeepEqual(first.Tabs, second.Tabs) {
		t.Errorf("second sync changed tabs:\n%+v\n%+v", first.Tabs, second.Tabs)
	}
	if len(first.Tabs) != 2 {
		t.Errorf("expected 2 tabs, got %d", len(first.Tabs))
	}
}

func TestSyncCarriesExistingAIData(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	f.bind(t, win, "ws1", "w1", "Work")
	f.e.SyncWindowToRemote(ctx, win, false)

	doc, _ := store.GetWindowDoc(f.db, "ws1", "w1")
	doc.Tabs[0].AI = store.AIData{Status: store.AICompleted, Category: "News", Confidence: 70}
	if err := store.WriteWindowDoc(f.db, *doc); err != nil {
		t.Fatalf("WriteWindowDoc: %v", err)
	}

	f.e.SyncWindowToRemote(ctx, win, false)
	doc, _ = store.GetWindowDoc(f.db, "ws1", "w1")
	if doc.Tabs[0].AI.Category != "News" {
		t.Errorf("classification lost across sync: %+v", doc.Tabs[0].AI)
	}
}

func TestSyncSkipsWhenWindowCheckFails(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	f.bind(t, win, "ws1", "w1", "Work")
	f.e.SyncWindowToRemote(ctx, win, false)

	f.fake.RemoveWindow(win)
	f.e.SyncWindowToRemote(ctx, win, true)

	// Skip, never delete, when the window cannot be verified.
	if doc, _ := store.GetWindowDoc(f.db, "ws1", "w1"); doc == nil {
		t.Error("doc deleted on failed existence check")
	}
}

func TestEmptyWindowRemovalDeletesDocAndBinding(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	tabs, _ := f.fake.TabsInWindow(ctx, win)
	f.bind(t, win, "ws1", "w1", "Work")
	f.e.SyncWindowToRemote(ctx, win, false)

	// The user closes the last meaningful tab.
	f.fake.CloseTabs(ctx, []browser.TabID{tabs[0].ID})
	f.e.HandleEvent(ctx, browser.TabRemoved{TabID: tabs[0].ID, WindowID: win})

	if doc, _ := store.GetWindowDoc(f.db, "ws1", "w1"); doc != nil {
		t.Error("doc not deleted for emptied window")
	}
	if _, bound := f.co.Binding(win); bound {
		t.Error("binding not dropped")
	}
	if len(f.fake.ClosedWindows) != 1 || f.fake.ClosedWindows[0] != win {
		t.Errorf("window not closed: %v", f.fake.ClosedWindows)
	}
}

func TestEmptyWindowSurvivesNonRemovalSync(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow()
	f.bind(t, win, "ws1", "w1", "Work")
	store.WriteWindowDoc(f.db, store.WindowDoc{WorkspaceID: "ws1", InternalWindowID: "w1", IsActive: true})

	f.e.SyncWindowToRemote(ctx, win, false)

	if doc, _ := store.GetWindowDoc(f.db, "ws1", "w1"); doc == nil {
		t.Error("non-removal sync deleted an empty window doc")
	}
	if len(f.fake.ClosedWindows) != 0 {
		t.Error("non-removal sync closed the window")
	}
}

func TestTabNavigationResetsClassification(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	tabs, _ := f.fake.TabsInWindow(ctx, win)
	uid, _, _ := f.co.GetOrAssign(tabs[0].ID, "http://a.com")
	store.WriteInboxTabs(f.db, []store.TabRecord{{
		UID: uid, URL: "http://a.com", Title: "A",
		AI: store.AIData{Status: store.AICompleted, Category: "News", Confidence: 90},
	}})

	// Title-only change keeps the classification.
	tab := tabs[0]
	tab.Title = "A (renamed)"
	f.fake.SetTab(tab)
	f.e.HandleEvent(ctx, browser.TabUpdated{Tab: tab})

	inbox, _ := store.InboxTabs(f.db)
	if inbox[0].AI.Status != store.AICompleted || inbox[0].Title != "A (renamed)" {
		t.Errorf("title change mishandled: %+v", inbox[0])
	}
	if q, _ := store.LoadQueue(f.db); len(q) != 0 {
		t.Errorf("title change enqueued: %+v", q)
	}

	// Navigation resets to pending and re-enqueues.
	tab.URL = "http://b.com"
	f.fake.SetTab(tab)
	f.e.HandleEvent(ctx, browser.TabUpdated{Tab: tab})

	inbox, _ = store.InboxTabs(f.db)
	if inbox[0].AI.Status != store.AIPending || inbox[0].AI.Category != "" {
		t.Errorf("navigation did not reset classification: %+v", inbox[0].AI)
	}
	if inbox[0].URL != "http://b.com" {
		t.Errorf("url not updated: %+v", inbox[0])
	}
	if q, _ := store.LoadQueue(f.db); len(q) != 1 || q[0].UID != uid {
		t.Errorf("navigation not enqueued: %+v", q)
	}
}

func TestNavigationPreservesLockFlag(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	tabs, _ := f.fake.TabsInWindow(ctx, win)
	uid, _, _ := f.co.GetOrAssign(tabs[0].ID, "http://a.com")
	store.WriteInboxTabs(f.db, []store.TabRecord{{
		UID: uid, URL: "http://a.com",
		AI: store.AIData{Status: store.AICompleted, Category: "Pinned", Locked: true},
	}})

	tab := tabs[0]
	tab.URL = "http://b.com"
	f.fake.SetTab(tab)
	f.e.HandleEvent(ctx, browser.TabUpdated{Tab: tab})

	inbox, _ := store.InboxTabs(f.db)
	if !inbox[0].AI.Locked {
		t.Errorf("lock flag dropped on navigation: %+v", inbox[0].AI)
	}
}

func TestNewInboxTabIsPersistedAndEnqueued(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://new.com")
	tabs, _ := f.fake.TabsInWindow(ctx, win)
	f.e.HandleEvent(ctx, browser.TabUpdated{Tab: tabs[0]})

	inbox, _ := store.InboxTabs(f.db)
	if len(inbox) != 1 || inbox[0].URL != "http://new.com" || inbox[0].AI.Status != store.AIPending {
		t.Fatalf("unexpected inbox: %+v", inbox)
	}
	if q, _ := store.LoadQueue(f.db); len(q) != 1 {
		t.Errorf("new tab not enqueued: %+v", q)
	}
}

func TestInternalTabsAreIgnored(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("about:blank", testDash+"/index.html")
	tabs, _ := f.fake.TabsInWindow(ctx, win)
	for _, tab := range tabs {
		f.e.HandleEvent(ctx, browser.TabUpdated{Tab: tab})
	}

	if inbox, _ := store.InboxTabs(f.db); len(inbox) != 0 {
		t.Errorf("internal tabs persisted: %+v", inbox)
	}
}

func TestInboxTabRemoval(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com", "http://b.com")
	tabs, _ := f.fake.TabsInWindow(ctx, win)
	for _, tab := range tabs {
		f.e.HandleEvent(ctx, browser.TabUpdated{Tab: tab})
	}

	f.e.HandleEvent(ctx, browser.TabRemoved{TabID: tabs[0].ID, WindowID: win})

	inbox, _ := store.InboxTabs(f.db)
	if len(inbox) != 1 || inbox[0].URL != "http://b.com" {
		t.Errorf("removal not propagated: %+v", inbox)
	}

	// Window-close removals leave the inbox alone.
	f.e.HandleEvent(ctx, browser.TabRemoved{TabID: tabs[1].ID, WindowID: win, WindowClosing: true})
	inbox, _ = store.InboxTabs(f.db)
	if len(inbox) != 1 {
		t.Errorf("window-close removal mutated inbox: %+v", inbox)
	}
}

func TestRegisterNewInboxWindow(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com", "about:blank", "http://b.com")
	f.e.RegisterNewInboxWindow(ctx, win)

	inbox, _ := store.InboxTabs(f.db)
	if len(inbox) != 2 {
		t.Fatalf("expected 2 registered tabs, got %+v", inbox)
	}
	if q, _ := store.LoadQueue(f.db); len(q) != 2 {
		t.Errorf("registered tabs not enqueued: %+v", q)
	}

	// Re-registering is a no-op: uids are already present.
	f.e.RegisterNewInboxWindow(ctx, win)
	inbox, _ = store.InboxTabs(f.db)
	if len(inbox) != 2 {
		t.Errorf("re-register duplicated tabs: %+v", inbox)
	}
}

func TestOpenWorkspaceEmptyCreatesExactlyOneWindow(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	if err := f.e.OpenWorkspace(ctx, "ws1", "Work"); err != nil {
		t.Fatalf("OpenWorkspace: %v", err)
	}

	wins, _ := f.fake.Windows(ctx)
	if len(wins) != 1 {
		t.Fatalf("expected 1 window, got %d", len(wins))
	}
	docs, _ := store.ListWindowDocs(f.db, "ws1")
	if len(docs) != 1 || !docs[0].IsActive {
		t.Fatalf("expected 1 active doc, got %+v", docs)
	}
	if _, bound := f.co.Binding(wins[0].ID); !bound {
		t.Error("new window not bound")
	}

	tabs, _ := f.fake.TabsInWindow(ctx, wins[0].ID)
	if len(tabs) != 1 || tabs[0].URL != testLoader || !tabs[0].Pinned {
		t.Errorf("expected one pinned loader tab, got %+v", tabs)
	}
}

func TestOpenSpecificWindowRestoresTabs(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	doc := store.WindowDoc{
		WorkspaceID:      "ws1",
		InternalWindowID: "w1",
		Tabs: []store.TabRecord{
			{UID: "u1", URL: "http://a.com", Title: "A"},
			{UID: "u2", URL: "http://b.com", Title: "B"},
		},
	}
	if err := store.WriteWindowDoc(f.db, doc); err != nil {
		t.Fatalf("WriteWindowDoc: %v", err)
	}

	if err := f.e.OpenSpecificWindow(ctx, "ws1", doc, "Work", 1); err != nil {
		t.Fatalf("OpenSpecificWindow: %v", err)
	}

	wins, _ := f.fake.Windows(ctx)
	if len(wins) != 1 {
		t.Fatalf("expected 1 window, got %d", len(wins))
	}
	win := wins[0].ID
	tabs, _ := f.fake.TabsInWindow(ctx, win)
	if len(tabs) != 3 || tabs[0].URL != testLoader || tabs[1].URL != "http://a.com" {
		t.Fatalf("unexpected tabs: %+v", tabs)
	}

	// Restored tabs carry their persisted uids, not freshly minted ones.
	if uid, ok := f.co.UID(tabs[1].ID); !ok || uid != "u1" {
		t.Errorf("fingerprint not pre-populated: %q %v", uid, ok)
	}
	if f.fake.Groups[win] != "WORK (1)" {
		t.Errorf("group label = %q", f.fake.Groups[win])
	}
	if docs, _ := store.ListWindowDocs(f.db, "ws1"); !docs[0].IsActive {
		t.Error("doc not marked active")
	}
	if f.co.BulkInFlight() {
		t.Error("bulk counter leaked")
	}
}

func TestOpenSpecificWindowFocusesAlreadyOpenWindow(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	doc := store.WindowDoc{WorkspaceID: "ws1", InternalWindowID: "w1",
		Tabs: []store.TabRecord{{UID: "u1", URL: "http://a.com"}}}
	store.WriteWindowDoc(f.db, doc)

	win := f.fake.AddWindow("http://a.com")
	f.bind(t, win, "ws1", "w1", "Work")

	if err := f.e.OpenSpecificWindow(ctx, "ws1", doc, "Work", 1); err != nil {
		t.Fatalf("OpenSpecificWindow: %v", err)
	}

	if len(f.fake.FocusedWins) != 1 || f.fake.FocusedWins[0] != win {
		t.Errorf("expected focus, got %v", f.fake.FocusedWins)
	}
	if wins, _ := f.fake.Windows(ctx); len(wins) != 1 {
		t.Errorf("duplicate window opened: %v", wins)
	}
}

func TestOpenSpecificWindowSelfHealsStaleBinding(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	doc := store.WindowDoc{WorkspaceID: "ws1", InternalWindowID: "w1",
		Tabs: []store.TabRecord{{UID: "u1", URL: "http://a.com"}}}
	store.WriteWindowDoc(f.db, doc)

	// Binding points at a window that no longer exists; focus will fail.
	f.bind(t, 999, "ws1", "w1", "Work")

	if err := f.e.OpenSpecificWindow(ctx, "ws1", doc, "Work", 1); err != nil {
		t.Fatalf("OpenSpecificWindow: %v", err)
	}

	if _, bound := f.co.Binding(999); bound {
		t.Error("stale binding survived")
	}
	wins, _ := f.fake.Windows(ctx)
	if len(wins) != 1 {
		t.Fatalf("expected a replacement window, got %v", wins)
	}
	if _, bound := f.co.Binding(wins[0].ID); !bound {
		t.Error("replacement window not bound")
	}
}

func TestForceSyncAppendsThenPurges(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://stale.com")
	staleTabs, _ := f.fake.TabsInWindow(ctx, win)
	f.bind(t, win, "ws1", "w1", "Work")
	store.WriteWindowDoc(f.db, store.WindowDoc{
		WorkspaceID: "ws1", InternalWindowID: "w1",
		Tabs: []store.TabRecord{{UID: "u1", URL: "http://fresh.com"}},
	})

	if err := f.e.ForceSync(ctx, win); err != nil {
		t.Fatalf("ForceSync: %v", err)
	}

	tabs, _ := f.fake.TabsInWindow(ctx, win)
	if len(tabs) != 1 || tabs[0].URL != "http://fresh.com" {
		t.Fatalf("unexpected tabs after force sync: %+v", tabs)
	}
	if len(f.fake.ClosedTabs) != 1 || f.fake.ClosedTabs[0] != staleTabs[0].ID {
		t.Errorf("stale tab not purged: %v", f.fake.ClosedTabs)
	}
	if uid, ok := f.co.UID(tabs[0].ID); !ok || uid != "u1" {
		t.Errorf("fresh tab fingerprint = %q %v", uid, ok)
	}

	// The doc reflects live state after the rewrite.
	doc, _ := store.GetWindowDoc(f.db, "ws1", "w1")
	if len(doc.Tabs) != 1 || doc.Tabs[0].UID != "u1" {
		t.Errorf("doc not resynced: %+v", doc.Tabs)
	}
	if f.co.IsSuppressed(win) {
		t.Error("window lock leaked")
	}
}

func TestForceSyncKeepsPinnedTabs(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://pinned.com")
	tabs, _ := f.fake.TabsInWindow(ctx, win)
	f.fake.PinTab(ctx, tabs[0].ID)
	f.bind(t, win, "ws1", "w1", "Work")
	store.WriteWindowDoc(f.db, store.WindowDoc{
		WorkspaceID: "ws1", InternalWindowID: "w1",
		Tabs: []store.TabRecord{{UID: "u1", URL: "http://fresh.com"}},
	})

	if err := f.e.ForceSync(ctx, win); err != nil {
		t.Fatalf("ForceSync: %v", err)
	}
	if len(f.fake.ClosedTabs) != 0 {
		t.Errorf("pinned tab closed: %v", f.fake.ClosedTabs)
	}
}

func TestWindowRemovedMarksDocInactive(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	f.bind(t, win, "ws1", "w1", "Work")
	f.e.SyncWindowToRemote(ctx, win, false)

	f.fake.RemoveWindow(win)
	f.e.HandleEvent(ctx, browser.WindowRemoved{WindowID: win})

	if _, bound := f.co.Binding(win); bound {
		t.Error("binding survived window removal")
	}
	docs, _ := store.ListWindowDocs(f.db, "ws1")
	if len(docs) != 1 || docs[0].IsActive {
		t.Errorf("doc not marked inactive: %+v", docs)
	}
}

func TestClaimWindow(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	if err := f.e.ClaimWindow(ctx, win, "ws1", "w1", "Work"); err != nil {
		t.Fatalf("ClaimWindow: %v", err)
	}

	if _, bound := f.co.Binding(win); !bound {
		t.Fatal("window not bound")
	}
	doc, _ := store.GetWindowDoc(f.db, "ws1", "w1")
	if doc == nil || len(doc.Tabs) != 1 {
		t.Errorf("claim did not sync: %+v", doc)
	}

	if err := f.e.ClaimWindow(ctx, 12345, "ws1", "w2", "Work"); err == nil {
		t.Error("expected error claiming a nonexistent window")
	}
}

func TestTriggerAISortEnqueuesOpenUnclassifiedTabs(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com", "http://b.com")
	tabs, _ := f.fake.TabsInWindow(ctx, win)
	uidA, _, _ := f.co.GetOrAssign(tabs[0].ID, "http://a.com")
	uidB, _, _ := f.co.GetOrAssign(tabs[1].ID, "http://b.com")
	store.WriteInboxTabs(f.db, []store.TabRecord{
		{UID: uidA, URL: "http://a.com", AI: store.AIData{Status: store.AIPending}},
		{UID: uidB, URL: "http://b.com", AI: store.AIData{Status: store.AICompleted, Category: "Work"}},
		{UID: "closed", URL: "http://c.com", AI: store.AIData{Status: store.AIPending}},
	})

	if err := f.e.TriggerAISort(ctx); err != nil {
		t.Fatalf("TriggerAISort: %v", err)
	}

	q, _ := store.LoadQueue(f.db)
	if len(q) != 1 || q[0].UID != uidA {
		t.Errorf("expected only the open pending tab, got %+v", q)
	}
}

func TestHandleRequestRouting(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	f.bind(t, win, "ws1", "w1", "Work")

	reply, err := f.e.HandleRequest(ctx, Request{Type: ReqGetActiveMappings})
	if err != nil {
		t.Fatalf("GET_ACTIVE_MAPPINGS: %v", err)
	}
	maps, ok := reply.([]Mapping)
	if !ok || len(maps) != 1 || maps[0].WorkspaceID != "ws1" {
		t.Errorf("unexpected mappings: %+v", reply)
	}

	reply, err = f.e.HandleRequest(ctx, Request{Type: ReqGetRestoringStatus})
	if err != nil {
		t.Fatalf("GET_RESTORING_STATUS: %v", err)
	}
	if m := reply.(map[string]string); m["status"] != "" {
		t.Errorf("expected idle status, got %+v", m)
	}

	if _, err := f.e.HandleRequest(ctx, Request{Type: "NONSENSE"}); err == nil {
		t.Error("expected error for unknown request type")
	}
	if _, err := f.e.HandleRequest(ctx, Request{Type: ReqOpenWorkspace, WorkspaceID: "missing"}); err == nil {
		t.Error("expected error for unknown workspace")
	}
}

func TestMenuInvocationDispatches(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	f.e.HandleEvent(ctx, browser.MenuInvoked{
		Action:    actions.ActionSaveSelection,
		WindowID:  1,
		Selection: "remember this",
		PageURL:   "http://x.com/p",
		PageTitle: "Page",
	})

	note, err := store.FindNoteByTitle(f.db, "", "Page")
	if err != nil || note == nil {
		t.Fatalf("menu action did not create note: %v", err)
	}
}

func TestClaimWindowBootstrapsWorkspaceRow(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	if err := f.e.ClaimWindow(ctx, win, "ws1", "w1", "Research"); err != nil {
		t.Fatalf("ClaimWindow: %v", err)
	}

	ws, err := store.GetWorkspace(f.db, "ws1")
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if ws == nil || ws.Name != "Research" || ws.Type != store.TypeWorkspace {
		t.Fatalf("claim did not create workspace row: %+v", ws)
	}

	profiles, err := store.ListProfiles(f.db)
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(profiles) != 1 || ws.ProfileID != profiles[0].ID {
		t.Fatalf("expected one default profile owning the workspace, got %+v", profiles)
	}

	// A second workspace reuses the profile; re-claiming into an existing
	// workspace adds no duplicate row.
	win2 := f.fake.AddWindow("http://b.com")
	if err := f.e.ClaimWindow(ctx, win2, "ws2", "w2", "News"); err != nil {
		t.Fatalf("ClaimWindow ws2: %v", err)
	}
	win3 := f.fake.AddWindow("http://c.com")
	if err := f.e.ClaimWindow(ctx, win3, "ws1", "w3", "Research"); err != nil {
		t.Fatalf("ClaimWindow ws1 again: %v", err)
	}

	items, err := store.ListWorkspaces(f.db)
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 workspaces, got %+v", items)
	}
	if profiles, _ = store.ListProfiles(f.db); len(profiles) != 1 {
		t.Errorf("expected the default profile to be reused, got %+v", profiles)
	}

	// The router's stored-name fallback resolves from the created row.
	name, err := f.e.workspaceName(Request{WorkspaceID: "ws1"})
	if err != nil || name != "Research" {
		t.Errorf("workspaceName = %q, %v", name, err)
	}
}

func TestFocusPublishesMenuContext(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	win := f.fake.AddWindow("http://a.com")
	if err := f.e.ClaimWindow(ctx, win, "ws1", "w1", "Research"); err != nil {
		t.Fatalf("ClaimWindow: %v", err)
	}

	ch, cancel := f.bu.Subscribe()
	defer cancel()

	f.e.HandleEvent(ctx, browser.WindowFocused{WindowID: win})

	var got *bus.Message
drain:
	for {
		select {
		case msg := <-ch:
			if msg.Type == bus.MenuContextUpdate {
				m := msg
				got = &m
			}
		default:
			break drain
		}
	}
	if got == nil {
		t.Fatal("focus published no menu context update")
	}
	if got.UID != "ws1" || got.Name != "Research" {
		t.Errorf("unexpected menu context: %+v", *got)
	}

	// Focusing an unbound window publishes nothing.
	loose := f.fake.AddWindow("http://b.com")
	f.e.HandleEvent(ctx, browser.WindowFocused{WindowID: loose})
	select {
	case msg := <-ch:
		t.Errorf("unexpected message for unbound window: %+v", msg)
	default:
	}
}

func TestConcurrentInboxWritersLoseNoRecords(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	const rounds = 40
	for i := 0; i < rounds; i++ {
		winA := f.fake.AddWindow(fmt.Sprintf("http://a%d.com", i))
		tabsA, err := f.fake.TabsInWindow(ctx, winA)
		if err != nil || len(tabsA) != 1 {
			t.Fatalf("TabsInWindow: %v", err)
		}
		winB := f.fake.AddWindow(fmt.Sprintf("http://b%d.com", i))

		// A navigation event and the delayed window registration land on
		// different goroutines; neither rewrite may clobber the other.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.e.HandleEvent(ctx, browser.TabUpdated{Tab: tabsA[0]})
		}()
		go func() {
			defer wg.Done()
			f.e.RegisterNewInboxWindow(ctx, winB)
		}()
		wg.Wait()
	}

	inbox, err := store.InboxTabs(f.db)
	if err != nil {
		t.Fatalf("InboxTabs: %v", err)
	}
	if len(inbox) != 2*rounds {
		t.Fatalf("lost inbox records: got %d, want %d", len(inbox), 2*rounds)
	}
}
