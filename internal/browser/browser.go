// Package browser defines the surface the coordination engine needs from a
// live browser: window/tab queries and commands, plus the event stream the
// browser pushes back. The real implementation lives in internal/bridge and
// talks to the companion extension over WebSocket; tests use the Fake.
package browser

import (
	"context"
	"strings"
)

// WindowID is the browser's ephemeral window handle. Not stable across
// browser restarts.
type WindowID int

// TabID is the browser's ephemeral tab handle. Not stable across restarts.
type TabID int

// Tab is a live browser tab.
type Tab struct {
	ID         TabID
	WindowID   WindowID
	URL        string
	Title      string
	FavIconURL string
	Pinned     bool
	Incognito  bool
	Index      int
	Status     string // "loading" or "complete"
}

// Window is a live browser window.
type Window struct {
	ID        WindowID
	Focused   bool
	Incognito bool
}

// PageMeta is the lightweight metadata extracted from a live page for
// classification.
type PageMeta struct {
	Title           string `json:"title"`
	MetaDescription string `json:"metaDescription"`
	OGDescription   string `json:"ogDescription"`
	FirstHeading    string `json:"firstHeading"`
}

// Empty reports whether no metadata was extracted.
func (m PageMeta) Empty() bool {
	return m == PageMeta{}
}

// Browser is the command surface against the live browser. All calls may
// fail when the bridge extension is disconnected; callers treat failed
// existence checks as "does not exist" and other failures as best-effort.
type Browser interface {
	Windows(ctx context.Context) ([]Window, error)
	WindowExists(ctx context.Context, id WindowID) bool
	TabsInWindow(ctx context.Context, id WindowID) ([]Tab, error)
	Tab(ctx context.Context, id TabID) (Tab, error)

	// CreateWindow opens a new window with one tab per URL, in order.
	// An empty url list opens a window with a single blank tab.
	CreateWindow(ctx context.Context, urls []string) (Window, []Tab, error)
	CreateTab(ctx context.Context, win WindowID, url string) (Tab, error)
	CloseTabs(ctx context.Context, ids []TabID) error
	CloseWindow(ctx context.Context, id WindowID) error
	FocusWindow(ctx context.Context, id WindowID) error
	PinTab(ctx context.Context, id TabID) error

	// GroupTabs puts the given tabs of a window into a group with the given
	// label and color, reusing an existing same-labeled group. Idempotent.
	GroupTabs(ctx context.Context, win WindowID, ids []TabID, label, color string) error

	// ExtractPageMeta runs a read-only script in the tab's context and
	// returns the page metadata used for classification.
	ExtractPageMeta(ctx context.Context, id TabID) (PageMeta, error)
}

// Event is a browser-originated event delivered to the engine.
type Event interface{ isEvent() }

// Connected fires when a browser (re)attaches to the bridge. The engine
// re-validates bindings and rebuilds fingerprints on it.
type Connected struct{}

// TabUpdated fires when a tab finishes a navigation (status "complete")
// or its title changes.
type TabUpdated struct {
	Tab Tab
}

// TabRemoved fires when a tab closes. WindowClosing is true when the whole
// window is going away.
type TabRemoved struct {
	TabID         TabID
	WindowID      WindowID
	WindowClosing bool
}

// WindowCreated fires when a new window appears.
type WindowCreated struct {
	Window Window
}

// WindowRemoved fires when a window closes.
type WindowRemoved struct {
	WindowID WindowID
}

// WindowFocused fires on window focus change. WindowID is 0 when focus
// left the browser entirely.
type WindowFocused struct {
	WindowID WindowID
}

// TabActivated fires when a tab becomes the active tab of its window.
type TabActivated struct {
	TabID    TabID
	WindowID WindowID
}

// MenuInvoked fires when the user picks one of our context-menu entries.
type MenuInvoked struct {
	Action    string // "save-selection" or "save-link"
	WindowID  WindowID
	Selection string
	LinkURL   string
	PageURL   string
	PageTitle string
}

func (Connected) isEvent()     {}
func (TabUpdated) isEvent()    {}
func (TabRemoved) isEvent()    {}
func (WindowCreated) isEvent() {}
func (WindowRemoved) isEvent() {}
func (WindowFocused) isEvent() {}
func (TabActivated) isEvent()  {}
func (MenuInvoked) isEvent()   {}

var internalPrefixes = []string{
	"about:", "chrome:", "chrome-extension:", "moz-extension:",
	"edge:", "resource:", "view-source:", "devtools:",
}

// IsInternalURL reports whether a URL points at a browser-internal page or
// one of our own pages (loader, dashboard). Such tabs are never persisted
// into tab lists and never classified.
func IsInternalURL(url, dashboardPrefix string) bool {
	if url == "" {
		return true
	}
	if dashboardPrefix != "" && strings.HasPrefix(url, dashboardPrefix) {
		return true
	}
	for _, p := range internalPrefixes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}
