package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nyviadk/nexus/internal/browser"
)

// Bridge implements browser.Browser by translating each call into one
// correlated command frame to the extension.
var _ browser.Browser = (*Bridge)(nil)

func (b *Bridge) Windows(ctx context.Context) ([]browser.Window, error) {
	resp, err := b.call(ctx, OutgoingMsg{Action: "listWindows"})
	if err != nil {
		return nil, err
	}
	return parseWindows(resp.Windows)
}

// WindowExists reports false for any failure: a disconnected bridge means
// the window cannot be verified, and callers treat that as "skip".
func (b *Bridge) WindowExists(ctx context.Context, id browser.WindowID) bool {
	resp, err := b.call(ctx, OutgoingMsg{Action: "windowExists", WinID: int(id)})
	if err != nil {
		return false
	}
	return resp.Exists != nil && *resp.Exists
}

func (b *Bridge) TabsInWindow(ctx context.Context, id browser.WindowID) ([]browser.Tab, error) {
	resp, err := b.call(ctx, OutgoingMsg{Action: "listTabs", WinID: int(id)})
	if err != nil {
		return nil, err
	}
	return parseTabs(resp.Tabs)
}

func (b *Bridge) Tab(ctx context.Context, id browser.TabID) (browser.Tab, error) {
	resp, err := b.call(ctx, OutgoingMsg{Action: "getTab", TabID: int(id)})
	if err != nil {
		return browser.Tab{}, err
	}
	return parseTab(resp.Tab)
}

func (b *Bridge) CreateWindow(ctx context.Context, urls []string) (browser.Window, []browser.Tab, error) {
	resp, err := b.call(ctx, OutgoingMsg{Action: "createWindow", URLs: urls})
	if err != nil {
		return browser.Window{}, nil, err
	}
	var ww wireWindow
	if err := json.Unmarshal(resp.Window, &ww); err != nil {
		return browser.Window{}, nil, fmt.Errorf("parse window: %w", err)
	}
	tabs, err := parseTabs(resp.Tabs)
	if err != nil {
		return browser.Window{}, nil, err
	}
	win := browser.Window{ID: browser.WindowID(ww.ID), Focused: ww.Focused, Incognito: ww.Incognito}
	return win, tabs, nil
}

func (b *Bridge) CreateTab(ctx context.Context, win browser.WindowID, url string) (browser.Tab, error) {
	resp, err := b.call(ctx, OutgoingMsg{Action: "createTab", WinID: int(win), URL: url})
	if err != nil {
		return browser.Tab{}, err
	}
	return parseTab(resp.Tab)
}

func (b *Bridge) CloseTabs(ctx context.Context, ids []browser.TabID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]int, len(ids))
	for i, id := range ids {
		raw[i] = int(id)
	}
	_, err := b.call(ctx, OutgoingMsg{Action: "closeTabs", TabIDs: raw})
	return err
}

func (b *Bridge) CloseWindow(ctx context.Context, id browser.WindowID) error {
	_, err := b.call(ctx, OutgoingMsg{Action: "closeWindow", WinID: int(id)})
	return err
}

func (b *Bridge) FocusWindow(ctx context.Context, id browser.WindowID) error {
	_, err := b.call(ctx, OutgoingMsg{Action: "focusWindow", WinID: int(id)})
	return err
}

func (b *Bridge) PinTab(ctx context.Context, id browser.TabID) error {
	_, err := b.call(ctx, OutgoingMsg{Action: "pinTab", TabID: int(id)})
	return err
}

func (b *Bridge) GroupTabs(ctx context.Context, win browser.WindowID, ids []browser.TabID, label, color string) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]int, len(ids))
	for i, id := range ids {
		raw[i] = int(id)
	}
	_, err := b.call(ctx, OutgoingMsg{Action: "groupTabs", WinID: int(win), TabIDs: raw, Label: label, Color: color})
	return err
}

func (b *Bridge) ExtractPageMeta(ctx context.Context, id browser.TabID) (browser.PageMeta, error) {
	resp, err := b.call(ctx, OutgoingMsg{Action: "extractMeta", TabID: int(id)})
	if err != nil {
		return browser.PageMeta{}, err
	}
	var meta browser.PageMeta
	if err := json.Unmarshal(resp.Meta, &meta); err != nil {
		return browser.PageMeta{}, fmt.Errorf("parse meta: %w", err)
	}
	return meta, nil
}
