package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fake is an in-memory Browser for tests. Windows and tabs are plain maps;
// commands mutate them the way a real browser would and record enough to
// assert on (closed tabs, group labels, focus calls).
type Fake struct {
	mu      sync.Mutex
	nextWin WindowID
	nextTab TabID

	windows map[WindowID]Window
	tabs    map[TabID]Tab

	// Recorded side effects.
	ClosedTabs    []TabID
	ClosedWindows []WindowID
	FocusedWins   []WindowID
	Groups        map[WindowID]string // window -> last applied group label

	// Failure injection.
	FocusErr error
	Meta     map[TabID]PageMeta
}

// NewFake returns an empty fake browser.
func NewFake() *Fake {
	return &Fake{
		nextWin: 100,
		nextTab: 1000,
		windows: make(map[WindowID]Window),
		tabs:    make(map[TabID]Tab),
		Groups:  make(map[WindowID]string),
		Meta:    make(map[TabID]PageMeta),
	}
}

// AddWindow creates a window with one tab per URL and returns its handle.
func (f *Fake) AddWindow(urls ...string) WindowID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addWindowLocked(urls)
}

func (f *Fake) addWindowLocked(urls []string) WindowID {
	f.nextWin++
	id := f.nextWin
	f.windows[id] = Window{ID: id}
	for i, u := range urls {
		f.nextTab++
		f.tabs[f.nextTab] = Tab{
			ID: f.nextTab, WindowID: id, URL: u,
			Title: u, Index: i, Status: "complete",
		}
	}
	return id
}

// AddTab appends a tab to an existing window and returns its handle.
func (f *Fake) AddTab(win WindowID, url string) TabID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTab++
	f.tabs[f.nextTab] = Tab{
		ID: f.nextTab, WindowID: win, URL: url,
		Title: url, Index: f.tabCountLocked(win), Status: "complete",
	}
	return f.nextTab
}

// SetTab replaces a tab's fields, keeping its handle.
func (f *Fake) SetTab(t Tab) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs[t.ID] = t
}

// RemoveWindow drops a window and its tabs without recording a close
// command, simulating the user closing it.
func (f *Fake) RemoveWindow(id WindowID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, id)
	for tid, t := range f.tabs {
		if t.WindowID == id {
			delete(f.tabs, tid)
		}
	}
}

func (f *Fake) tabCountLocked(win WindowID) int {
	n := 0
	for _, t := range f.tabs {
		if t.WindowID == win {
			n++
		}
	}
	return n
}

func (f *Fake) Windows(ctx context.Context) ([]Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Window
	for _, w := range f.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) WindowExists(ctx context.Context, id WindowID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.windows[id]
	return ok
}

func (f *Fake) TabsInWindow(ctx context.Context, id WindowID) ([]Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.windows[id]; !ok {
		return nil, fmt.Errorf("no window %d", id)
	}
	var out []Tab
	for _, t := range f.tabs {
		if t.WindowID == id {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *Fake) Tab(ctx context.Context, id TabID) (Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tabs[id]
	if !ok {
		return Tab{}, fmt.Errorf("no tab %d", id)
	}
	return t, nil
}

func (f *Fake) CreateWindow(ctx context.Context, urls []string) (Window, []Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(urls) == 0 {
		urls = []string{"about:blank"}
	}
	id := f.addWindowLocked(urls)
	var tabs []Tab
	for _, t := range f.tabs {
		if t.WindowID == id {
			tabs = append(tabs, t)
		}
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].Index < tabs[j].Index })
	return f.windows[id], tabs, nil
}

func (f *Fake) CreateTab(ctx context.Context, win WindowID, url string) (Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.windows[win]; !ok {
		return Tab{}, fmt.Errorf("no window %d", win)
	}
	f.nextTab++
	t := Tab{
		ID: f.nextTab, WindowID: win, URL: url,
		Title: url, Index: f.tabCountLocked(win), Status: "complete",
	}
	f.tabs[t.ID] = t
	return t, nil
}

func (f *Fake) CloseTabs(ctx context.Context, ids []TabID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.tabs, id)
		f.ClosedTabs = append(f.ClosedTabs, id)
	}
	return nil
}

func (f *Fake) CloseWindow(ctx context.Context, id WindowID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, id)
	for tid, t := range f.tabs {
		if t.WindowID == id {
			delete(f.tabs, tid)
		}
	}
	f.ClosedWindows = append(f.ClosedWindows, id)
	return nil
}

func (f *Fake) FocusWindow(ctx context.Context, id WindowID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FocusErr != nil {
		return f.FocusErr
	}
	if _, ok := f.windows[id]; !ok {
		return fmt.Errorf("no window %d", id)
	}
	f.FocusedWins = append(f.FocusedWins, id)
	return nil
}

func (f *Fake) PinTab(ctx context.Context, id TabID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tabs[id]
	if !ok {
		return fmt.Errorf("no tab %d", id)
	}
	t.Pinned = true
	f.tabs[id] = t
	return nil
}

func (f *Fake) GroupTabs(ctx context.Context, win WindowID, ids []TabID, label, color string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Groups[win] = label
	return nil
}

func (f *Fake) ExtractPageMeta(ctx context.Context, id TabID) (PageMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.Meta[id]; ok {
		return m, nil
	}
	return PageMeta{}, fmt.Errorf("no metadata for tab %d", id)
}
