package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/nyviadk/nexus/internal/browser"
)

type wireTab struct {
	ID         int    `json:"id"`
	WindowID   int    `json:"windowId"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	FavIconURL string `json:"favIconUrl"`
	Pinned     bool   `json:"pinned"`
	Incognito  bool   `json:"incognito"`
	Index      int    `json:"index"`
	Status     string `json:"status"`
}

type wireWindow struct {
	ID        int  `json:"id"`
	Focused   bool `json:"focused"`
	Incognito bool `json:"incognito"`
}

func (w wireTab) toTab() browser.Tab {
	return browser.Tab{
		ID:         browser.TabID(w.ID),
		WindowID:   browser.WindowID(w.WindowID),
		URL:        w.URL,
		Title:      w.Title,
		FavIconURL: w.FavIconURL,
		Pinned:     w.Pinned,
		Incognito:  w.Incognito,
		Index:      w.Index,
		Status:     w.Status,
	}
}

func parseTab(raw json.RawMessage) (browser.Tab, error) {
	var wt wireTab
	if err := json.Unmarshal(raw, &wt); err != nil {
		return browser.Tab{}, fmt.Errorf("parse tab: %w", err)
	}
	return wt.toTab(), nil
}

func parseTabs(raw json.RawMessage) ([]browser.Tab, error) {
	var wts []wireTab
	if err := json.Unmarshal(raw, &wts); err != nil {
		return nil, fmt.Errorf("parse tabs: %w", err)
	}
	tabs := make([]browser.Tab, len(wts))
	for i, wt := range wts {
		tabs[i] = wt.toTab()
	}
	return tabs, nil
}

func parseWindows(raw json.RawMessage) ([]browser.Window, error) {
	var wws []wireWindow
	if err := json.Unmarshal(raw, &wws); err != nil {
		return nil, fmt.Errorf("parse windows: %w", err)
	}
	wins := make([]browser.Window, len(wws))
	for i, ww := range wws {
		wins[i] = browser.Window{
			ID:        browser.WindowID(ww.ID),
			Focused:   ww.Focused,
			Incognito: ww.Incognito,
		}
	}
	return wins, nil
}

// parseEvent converts an extension event frame into a typed browser event.
func parseEvent(name string, payload json.RawMessage) (browser.Event, error) {
	switch name {
	case "tabUpdated":
		var p struct {
			Tab wireTab `json:"tab"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return browser.TabUpdated{Tab: p.Tab.toTab()}, nil

	case "tabRemoved":
		var p struct {
			TabID         int  `json:"tabId"`
			WindowID      int  `json:"windowId"`
			WindowClosing bool `json:"isWindowClosing"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return browser.TabRemoved{
			TabID:         browser.TabID(p.TabID),
			WindowID:      browser.WindowID(p.WindowID),
			WindowClosing: p.WindowClosing,
		}, nil

	case "windowCreated":
		var p struct {
			Window wireWindow `json:"window"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return browser.WindowCreated{Window: browser.Window{
			ID:        browser.WindowID(p.Window.ID),
			Focused:   p.Window.Focused,
			Incognito: p.Window.Incognito,
		}}, nil

	case "windowRemoved":
		var p struct {
			WindowID int `json:"windowId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return browser.WindowRemoved{WindowID: browser.WindowID(p.WindowID)}, nil

	case "windowFocused":
		var p struct {
			WindowID int `json:"windowId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return browser.WindowFocused{WindowID: browser.WindowID(p.WindowID)}, nil

	case "tabActivated":
		var p struct {
			TabID    int `json:"tabId"`
			WindowID int `json:"windowId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return browser.TabActivated{
			TabID:    browser.TabID(p.TabID),
			WindowID: browser.WindowID(p.WindowID),
		}, nil

	case "menuInvoked":
		var p struct {
			Action    string `json:"action"`
			WindowID  int    `json:"windowId"`
			Selection string `json:"selectionText"`
			LinkURL   string `json:"linkUrl"`
			PageURL   string `json:"pageUrl"`
			PageTitle string `json:"pageTitle"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return browser.MenuInvoked{
			Action:    p.Action,
			WindowID:  browser.WindowID(p.WindowID),
			Selection: p.Selection,
			LinkURL:   p.LinkURL,
			PageURL:   p.PageURL,
			PageTitle: p.PageTitle,
		}, nil

	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
}
