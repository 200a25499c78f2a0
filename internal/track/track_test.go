package track

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/store"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadAndValidateDropsStaleBindings(t *testing.T) {
	db := testDB(t)
	fake := browser.NewFake()
	ctx := context.Background()

	liveWin := fake.AddWindow("https://a.com")

	store.WriteWindowDoc(db, store.WindowDoc{WorkspaceID: "ws1", InternalWindowID: "live", IsActive: true})
	store.WriteWindowDoc(db, store.WindowDoc{WorkspaceID: "ws1", InternalWindowID: "stale", IsActive: true})
	store.SaveBindings(db, []store.Binding{
		{WindowHandle: int64(liveWin), WorkspaceID: "ws1", InternalWindowID: "live"},
		{WindowHandle: 99999, WorkspaceID: "ws1", InternalWindowID: "stale"},
	})

	co := New(db, fake)
	if err := co.LoadAndValidate(ctx); err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}

	if _, ok := co.Binding(liveWin); !ok {
		t.Error("live binding dropped")
	}
	if _, ok := co.Binding(99999); ok {
		t.Error("stale binding kept")
	}

	// Stale remote window marked inactive; live one untouched.
	doc, _ := store.GetWindowDoc(db, "ws1", "stale")
	if doc.IsActive {
		t.Error("stale window doc still active")
	}
	doc, _ = store.GetWindowDoc(db, "ws1", "live")
	if !doc.IsActive {
		t.Error("live window doc deactivated")
	}

	// Cleaned list written back.
	persisted, _ := store.LoadBindings(db)
	if len(persisted) != 1 || persisted[0].WindowHandle != int64(liveWin) {
		t.Fatalf("persisted bindings not cleaned: %+v", persisted)
	}
}

func TestGetOrAssign(t *testing.T) {
	co := New(testDB(t), browser.NewFake())

	uid1, prev, existed := co.GetOrAssign(7, "https://a.com")
	if existed || prev != "" || uid1 == "" {
		t.Fatalf("first assign: uid=%q prev=%q existed=%v", uid1, prev, existed)
	}

	// Same tab, new URL: same uid, previous URL reported.
	uid2, prev, existed := co.GetOrAssign(7, "https://b.com")
	if !existed || uid2 != uid1 || prev != "https://a.com" {
		t.Fatalf("second assign: uid=%q prev=%q existed=%v", uid2, prev, existed)
	}

	co.Release(7)
	if _, ok := co.UID(7); ok {
		t.Error("fingerprint survived release")
	}
}

func TestRebuildFingerprintsConsumeOnMatch(t *testing.T) {
	db := testDB(t)
	fake := browser.NewFake()
	ctx := context.Background()

	// Two physical tabs share a URL; only one persisted record exists.
	win := fake.AddWindow("https://dup.com", "https://dup.com", "https://solo.com")
	store.WriteInboxTabs(db, []store.TabRecord{
		{UID: "dup-uid", URL: "https://dup.com"},
		{UID: "solo-uid", URL: "https://solo.com"},
	})

	co := New(db, fake)
	co.RebuildFingerprints(ctx)

	tabs, _ := fake.TabsInWindow(ctx, win)
	matched := 0
	for _, tab := range tabs {
		if uid, ok := co.UID(tab.ID); ok {
			matched++
			if tab.URL == "https://solo.com" && uid != "solo-uid" {
				t.Errorf("solo tab got uid %q", uid)
			}
		}
	}
	// dup record consumed once, solo matched: exactly 2 fingerprints.
	if matched != 2 {
		t.Errorf("expected 2 matched tabs, got %d", matched)
	}
}

func TestRebuildSkipsBoundWindowsForInboxPool(t *testing.T) {
	db := testDB(t)
	fake := browser.NewFake()
	ctx := context.Background()

	win := fake.AddWindow("https://a.com")
	store.WriteInboxTabs(db, []store.TabRecord{{UID: "inbox-uid", URL: "https://a.com"}})
	store.WriteWindowDoc(db, store.WindowDoc{
		WorkspaceID: "ws1", InternalWindowID: "w1",
		Tabs: []store.TabRecord{{UID: "ws-uid", URL: "https://a.com"}},
	})

	co := New(db, fake)
	co.SetBinding(win, store.Binding{WorkspaceID: "ws1", InternalWindowID: "w1"})
	co.RebuildFingerprints(ctx)

	tabs, _ := fake.TabsInWindow(ctx, win)
	uid, ok := co.UID(tabs[0].ID)
	if !ok || uid != "ws-uid" {
		t.Errorf("bound window matched against wrong pool: uid=%q ok=%v", uid, ok)
	}
}

func TestBulkCounterNeverNegative(t *testing.T) {
	co := New(testDB(t), browser.NewFake())

	co.EndBulk() // underflow guard
	if co.BulkInFlight() {
		t.Error("counter went negative")
	}

	co.BeginBulk()
	co.BeginBulk()
	if !co.BulkInFlight() {
		t.Error("expected bulk in flight")
	}
	co.EndBulk()
	if !co.BulkInFlight() {
		t.Error("counter released too early")
	}
	co.EndBulk()
	if co.BulkInFlight() {
		t.Error("counter not released")
	}
}

func TestIsSuppressed(t *testing.T) {
	co := New(testDB(t), browser.NewFake())

	if co.IsSuppressed(5) {
		t.Error("suppressed with no locks")
	}
	co.LockWindow(5)
	if !co.IsSuppressed(5) {
		t.Error("lock not suppressing")
	}
	if co.IsSuppressed(6) {
		t.Error("per-window lock leaked to other window")
	}
	co.UnlockWindow(5)

	co.BeginBulk()
	if !co.IsSuppressed(6) {
		t.Error("bulk operation not suppressing all windows")
	}
	co.EndBulk()
}

func TestTabsForUIDs(t *testing.T) {
	co := New(testDB(t), browser.NewFake())
	co.Assign(1, "uid-a", "https://a.com")
	co.Assign(2, "uid-b", "https://b.com")

	tabs := co.TabsForUIDs([]string{"uid-b", "uid-missing"})
	if len(tabs) != 1 || tabs[0] != 2 {
		t.Fatalf("TabsForUIDs = %v", tabs)
	}
}
