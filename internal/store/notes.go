package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Note is a workspace-scoped note document.
type Note struct {
	ID          string
	WorkspaceID string
	Title       string
	Content     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ArchiveItem is an entry in a workspace's read-later archive.
type ArchiveItem struct {
	URL       string
	Title     string
	ReadLater bool
	SavedAt   time.Time
}

// FindNoteByTitle returns the note with an exact title match in the given
// workspace, or nil, nil if none exists.
func FindNoteByTitle(db *sql.DB, workspaceID, title string) (*Note, error) {
	var n Note
	err := db.QueryRow(
		"SELECT id, workspace_id, title, content, created_at, updated_at FROM notes WHERE workspace_id = ? AND title = ?",
		workspaceID, title,
	).Scan(&n.ID, &n.WorkspaceID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query note: %w", err)
	}
	return &n, nil
}

// CreateNote inserts a new note.
func CreateNote(db *sql.DB, n Note) error {
	_, err := db.Exec(
		"INSERT INTO notes (id, workspace_id, title, content) VALUES (?, ?, ?, ?)",
		n.ID, n.WorkspaceID, n.Title, n.Content,
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// UpdateNoteContent replaces a note's content and touches updated_at.
func UpdateNoteContent(db *sql.DB, id, content string) error {
	res, err := db.Exec(
		"UPDATE notes SET content = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		content, id,
	)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("note %s not found", id)
	}
	return nil
}

// ArchiveItems returns a workspace's archive, newest saved first.
func ArchiveItems(db *sql.DB, workspaceID string) ([]ArchiveItem, error) {
	rows, err := db.Query(
		"SELECT url, title, read_later, saved_at FROM archive WHERE workspace_id = ? ORDER BY saved_at DESC",
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var result []ArchiveItem
	for rows.Next() {
		var a ArchiveItem
		if err := rows.Scan(&a.URL, &a.Title, &a.ReadLater, &a.SavedAt); err != nil {
			return nil, fmt.Errorf("scan archive item: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// GetArchiveItem returns one archive entry by URL, or nil, nil if absent.
func GetArchiveItem(db *sql.DB, workspaceID, url string) (*ArchiveItem, error) {
	var a ArchiveItem
	err := db.QueryRow(
		"SELECT url, title, read_later, saved_at FROM archive WHERE workspace_id = ? AND url = ?",
		workspaceID, url,
	).Scan(&a.URL, &a.Title, &a.ReadLater, &a.SavedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query archive item: %w", err)
	}
	return &a, nil
}

// PutArchiveItem upserts an archive entry keyed by (workspace, url).
func PutArchiveItem(db *sql.DB, workspaceID string, a ArchiveItem) error {
	_, err := db.Exec(`INSERT INTO archive (workspace_id, url, title, read_later, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, url)
		DO UPDATE SET title = excluded.title, read_later = excluded.read_later, saved_at = excluded.saved_at`,
		workspaceID, a.URL, a.Title, a.ReadLater, a.SavedAt)
	if err != nil {
		return fmt.Errorf("upsert archive item: %w", err)
	}
	return nil
}
