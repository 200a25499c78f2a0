package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Item types in the workspace tree.
const (
	TypeFolder    = "folder"
	TypeWorkspace = "workspace"
)

// Profile is a top-level grouping of workspaces.
type Profile struct {
	ID   string
	Name string
}

// Workspace is a node in the workspace tree (folder or workspace).
type Workspace struct {
	ID        string
	Name      string
	Type      string
	ParentID  string
	ProfileID string
	Order     int
	CreatedAt time.Time
}

// CreateProfile inserts a profile row.
func CreateProfile(db *sql.DB, p Profile) error {
	_, err := db.Exec("INSERT INTO profiles (id, name) VALUES (?, ?)", p.ID, p.Name)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// ListProfiles returns all profiles.
func ListProfiles(db *sql.DB) ([]Profile, error) {
	rows, err := db.Query("SELECT id, name FROM profiles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var result []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// CreateWorkspace inserts a workspace (or folder) row. Claiming a window
// for a brand-new workspace goes through here first.
func CreateWorkspace(db *sql.DB, w Workspace) error {
	if w.Type == "" {
		w.Type = TypeWorkspace
	}
	_, err := db.Exec(
		"INSERT INTO items (id, name, type, parent_id, profile_id, ord) VALUES (?, ?, ?, ?, ?, ?)",
		w.ID, w.Name, w.Type, w.ParentID, w.ProfileID, w.Order,
	)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// GetWorkspace loads one workspace by id. Returns nil, nil if absent.
func GetWorkspace(db *sql.DB, id string) (*Workspace, error) {
	var w Workspace
	err := db.QueryRow(
		"SELECT id, name, type, parent_id, profile_id, ord, created_at FROM items WHERE id = ?", id,
	).Scan(&w.ID, &w.Name, &w.Type, &w.ParentID, &w.ProfileID, &w.Order, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query workspace: %w", err)
	}
	return &w, nil
}

// ListWorkspaces returns all items, folders and workspaces alike, in tree
// order (parent before children is not guaranteed; callers sort).
func ListWorkspaces(db *sql.DB) ([]Workspace, error) {
	rows, err := db.Query("SELECT id, name, type, parent_id, profile_id, ord, created_at FROM items ORDER BY ord, created_at")
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()

	var result []Workspace
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.Type, &w.ParentID, &w.ProfileID, &w.Order, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}
