package store

import (
	"database/sql"
	"fmt"
)

// Binding ties a physical browser window handle to a logical workspace
// window. Handles are not stable across browser restarts, so the binding
// set is persisted as a plain list and re-validated against live windows
// on startup.
type Binding struct {
	WindowHandle     int64
	WorkspaceID      string
	InternalWindowID string
	WorkspaceName    string
	Ordinal          int
}

// LoadBindings reads the persisted binding list.
func LoadBindings(db *sql.DB) ([]Binding, error) {
	rows, err := db.Query(
		"SELECT window_handle, workspace_id, internal_window_id, workspace_name, ordinal FROM bindings ORDER BY window_handle",
	)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	var result []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.WindowHandle, &b.WorkspaceID, &b.InternalWindowID, &b.WorkspaceName, &b.Ordinal); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// SaveBindings replaces the persisted binding list with the given one.
// Called after every binding mutation.
func SaveBindings(db *sql.DB, bindings []Binding) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM bindings"); err != nil {
		return fmt.Errorf("clear bindings: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT INTO bindings (window_handle, workspace_id, internal_window_id, workspace_name, ordinal) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bindings {
		if _, err := stmt.Exec(b.WindowHandle, b.WorkspaceID, b.InternalWindowID, b.WorkspaceName, b.Ordinal); err != nil {
			return fmt.Errorf("insert binding %d: %w", b.WindowHandle, err)
		}
	}
	return tx.Commit()
}
