// Package actions implements the context-menu verbs: appending a page
// selection to a per-page note and saving a link for later reading. Both
// resolve their workspace scope from the window the menu was invoked in.
package actions

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nyviadk/nexus/internal/applog"
	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/store"
	"github.com/nyviadk/nexus/internal/track"
)

// Menu action ids, shared with the extension manifest.
const (
	ActionSaveSelection = "save-selection"
	ActionSaveLink      = "save-link"
)

// Dispatcher executes context-menu actions against the store.
type Dispatcher struct {
	db *sql.DB
	co *track.Coordinator

	mu       sync.Mutex
	nameByWS map[string]string // workspace id -> cached display name

	now func() time.Time
}

// New returns a dispatcher.
func New(db *sql.DB, co *track.Coordinator) *Dispatcher {
	return &Dispatcher{
		db:       db,
		co:       co,
		nameByWS: make(map[string]string),
		now:      time.Now,
	}
}

// RefreshName refreshes the cached display name for a workspace. Called
// on focus changes so menu labels track renames without a store read per
// menu render.
func (d *Dispatcher) RefreshName(workspaceID string) {
	ws, err := store.GetWorkspace(d.db, workspaceID)
	if err != nil {
		applog.Error("actions.name", err, "workspace", workspaceID)
		return
	}
	if ws == nil {
		return
	}
	d.mu.Lock()
	d.nameByWS[workspaceID] = ws.Name
	d.mu.Unlock()
}

// Name returns the cached display name for a workspace, empty if never
// refreshed.
func (d *Dispatcher) Name(workspaceID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nameByWS[workspaceID]
}

// resolveScope maps the invoking window to its workspace. Unbound windows
// act on the inbox scope (empty id).
func (d *Dispatcher) resolveScope(win browser.WindowID) string {
	if b, ok := d.co.Binding(win); ok {
		return b.WorkspaceID
	}
	return ""
}

// AppendSelectionToNote appends the selected text to the note titled after
// the page, creating the note if needed. Appending the same selection to
// the same note twice is a no-op.
func (d *Dispatcher) AppendSelectionToNote(win browser.WindowID, selection, pageURL, pageTitle string) error {
	selection = strings.TrimSpace(selection)
	if selection == "" {
		return fmt.Errorf("empty selection")
	}
	if pageTitle == "" {
		pageTitle = pageURL
	}
	scope := d.resolveScope(win)

	quoted := quoteBlock(selection)
	footer := sourceFooter(pageURL)

	note, err := store.FindNoteByTitle(d.db, scope, pageTitle)
	if err != nil {
		return fmt.Errorf("find note: %w", err)
	}
	if note == nil {
		content := quoted + "\n\n" + footer
		if err := store.CreateNote(d.db, store.Note{
			ID:          uuid.NewString(),
			WorkspaceID: scope,
			Title:       pageTitle,
			Content:     content,
		}); err != nil {
			return fmt.Errorf("create note: %w", err)
		}
		applog.Info("actions.note.created", "title", pageTitle)
		return nil
	}

	if strings.Contains(note.Content, quoted) {
		// The exact selection is already in the note.
		return nil
	}

	var content string
	if strings.HasSuffix(strings.TrimRight(note.Content, "\n"), footer) {
		// Same source page: insert the new quote above the footer instead
		// of stacking footers.
		body := strings.TrimRight(note.Content, "\n")
		body = strings.TrimSuffix(body, footer)
		content = strings.TrimRight(body, "\n") + "\n\n" + quoted + "\n\n" + footer
	} else {
		content = strings.TrimRight(note.Content, "\n") + "\n\n---\n\n" + quoted + "\n\n" + footer
	}

	if err := store.UpdateNoteContent(d.db, note.ID, content); err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	applog.Info("actions.note.appended", "title", pageTitle)
	return nil
}

// SaveLinkForLater marks a link as read-later in the archive of the
// invoking window's workspace. A link already flagged is left alone; a
// link present but unflagged gets flagged with a fresh timestamp.
func (d *Dispatcher) SaveLinkForLater(win browser.WindowID, linkURL, pageTitle string) error {
	if linkURL == "" {
		return fmt.Errorf("empty link")
	}
	scope := d.resolveScope(win)

	existing, err := store.GetArchiveItem(d.db, scope, linkURL)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	if existing != nil && existing.ReadLater {
		return nil
	}

	item := store.ArchiveItem{
		URL:       linkURL,
		Title:     pageTitle,
		ReadLater: true,
		SavedAt:   d.now(),
	}
	if existing != nil && existing.Title != "" {
		item.Title = existing.Title
	}
	if err := store.PutArchiveItem(d.db, scope, item); err != nil {
		return fmt.Errorf("save link: %w", err)
	}
	applog.Info("actions.readlater", "url", linkURL)
	return nil
}

func quoteBlock(selection string) string {
	lines := strings.Split(selection, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func sourceFooter(pageURL string) string {
	return "Source: " + pageURL
}
