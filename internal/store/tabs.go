package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AI classification statuses for a tab record.
const (
	AIPending    = "pending"
	AIProcessing = "processing"
	AICompleted  = "completed"
)

// AIData is the classification sub-record of a tab.
type AIData struct {
	Status      string
	Category    string
	Confidence  int // 0-100
	Reasoning   string
	Locked      bool
	LastChecked time.Time // zero if never checked
}

// TabRecord is a persisted tab entry, either in the global inbox or in a
// workspace window document. UID is immutable once assigned and is the only
// stable cross-reference between physical tabs and persisted records.
type TabRecord struct {
	UID       string
	Title     string
	URL       string
	Favicon   string
	Incognito bool
	AI        AIData
}

// WindowDoc is the persisted document for one logical window within a
// workspace: its tab list plus activity metadata.
type WindowDoc struct {
	WorkspaceID      string
	InternalWindowID string
	Title            string
	IsActive         bool
	LastActive       time.Time
	CreatedAt        time.Time
	Tabs             []TabRecord
}

const tabColumns = `uid, title, url, favicon, incognito,
	ai_status, ai_category, ai_confidence, ai_reasoning, ai_locked, ai_last_checked`

func scanTab(rows *sql.Rows) (TabRecord, error) {
	var t TabRecord
	var checked sql.NullTime
	err := rows.Scan(&t.UID, &t.Title, &t.URL, &t.Favicon, &t.Incognito,
		&t.AI.Status, &t.AI.Category, &t.AI.Confidence, &t.AI.Reasoning, &t.AI.Locked, &checked)
	if err != nil {
		return TabRecord{}, err
	}
	if checked.Valid {
		t.AI.LastChecked = checked.Time
	}
	return t, nil
}

func queryTabs(db *sql.DB, workspaceID, internalWindowID string) ([]TabRecord, error) {
	rows, err := db.Query(
		"SELECT "+tabColumns+" FROM tabs WHERE workspace_id = ? AND internal_window_id = ? ORDER BY position",
		workspaceID, internalWindowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}
	defer rows.Close()

	var result []TabRecord
	for rows.Next() {
		t, err := scanTab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func writeTabs(tx *sql.Tx, workspaceID, internalWindowID string, tabs []TabRecord) error {
	if _, err := tx.Exec(
		"DELETE FROM tabs WHERE workspace_id = ? AND internal_window_id = ?",
		workspaceID, internalWindowID,
	); err != nil {
		return fmt.Errorf("clear tabs: %w", err)
	}

	// OR REPLACE: uid is globally unique, so writing a tab into this scope
	// displaces any row it still holds in another scope (inbox -> window
	// moves on claim).
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tabs
		(uid, workspace_id, internal_window_id, position, title, url, favicon, incognito,
		 ai_status, ai_category, ai_confidence, ai_reasoning, ai_locked, ai_last_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range tabs {
		status := t.AI.Status
		if status == "" {
			status = AIPending
		}
		var checked interface{}
		if !t.AI.LastChecked.IsZero() {
			checked = t.AI.LastChecked
		}
		if _, err := stmt.Exec(t.UID, workspaceID, internalWindowID, i, t.Title, t.URL,
			t.Favicon, t.Incognito, status, t.AI.Category, t.AI.Confidence,
			t.AI.Reasoning, t.AI.Locked, checked); err != nil {
			return fmt.Errorf("insert tab %q: %w", t.URL, err)
		}
	}
	return nil
}

// InboxTabs returns the global inbox tab list in stored order.
func InboxTabs(db *sql.DB) ([]TabRecord, error) {
	return queryTabs(db, "", "")
}

// WriteInboxTabs replaces the global inbox tab list. Whole-document
// read-modify-write is the store's atomicity unit.
func WriteInboxTabs(db *sql.DB, tabs []TabRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := writeTabs(tx, "", "", tabs); err != nil {
		return err
	}
	return tx.Commit()
}

// GetWindowDoc loads one workspace window document with its tab list.
// Returns nil, nil if the document does not exist.
func GetWindowDoc(db *sql.DB, workspaceID, internalWindowID string) (*WindowDoc, error) {
	doc := &WindowDoc{WorkspaceID: workspaceID, InternalWindowID: internalWindowID}

	var lastActive sql.NullTime
	err := db.QueryRow(
		"SELECT title, is_active, last_active, created_at FROM windows WHERE workspace_id = ? AND internal_window_id = ?",
		workspaceID, internalWindowID,
	).Scan(&doc.Title, &doc.IsActive, &lastActive, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query window doc: %w", err)
	}
	if lastActive.Valid {
		doc.LastActive = lastActive.Time
	}

	doc.Tabs, err = queryTabs(db, workspaceID, internalWindowID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// WriteWindowDoc upserts a workspace window document and replaces its tab
// list in a single transaction.
func WriteWindowDoc(db *sql.DB, doc WindowDoc) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lastActive interface{}
	if !doc.LastActive.IsZero() {
		lastActive = doc.LastActive
	}
	_, err = tx.Exec(`INSERT INTO windows (workspace_id, internal_window_id, title, is_active, last_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, internal_window_id)
		DO UPDATE SET title = excluded.title, is_active = excluded.is_active, last_active = excluded.last_active`,
		doc.WorkspaceID, doc.InternalWindowID, doc.Title, doc.IsActive, lastActive)
	if err != nil {
		return fmt.Errorf("upsert window: %w", err)
	}

	if err := writeTabs(tx, doc.WorkspaceID, doc.InternalWindowID, doc.Tabs); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteWindowDoc removes a window document and its tabs.
func DeleteWindowDoc(db *sql.DB, workspaceID, internalWindowID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tabs WHERE workspace_id = ? AND internal_window_id = ?",
		workspaceID, internalWindowID); err != nil {
		return fmt.Errorf("delete tabs: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM windows WHERE workspace_id = ? AND internal_window_id = ?",
		workspaceID, internalWindowID); err != nil {
		return fmt.Errorf("delete window: %w", err)
	}
	return tx.Commit()
}

// SetWindowActive flips the is_active flag of a window document. Missing
// documents are left alone.
func SetWindowActive(db *sql.DB, workspaceID, internalWindowID string, active bool) error {
	_, err := db.Exec(
		"UPDATE windows SET is_active = ? WHERE workspace_id = ? AND internal_window_id = ?",
		active, workspaceID, internalWindowID,
	)
	return err
}

// ListWindowDocs returns all window documents of a workspace with their
// tab lists, oldest first.
func ListWindowDocs(db *sql.DB, workspaceID string) ([]WindowDoc, error) {
	rows, err := db.Query(
		"SELECT internal_window_id, title, is_active, last_active, created_at FROM windows WHERE workspace_id = ? ORDER BY created_at, internal_window_id",
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	defer rows.Close()

	var docs []WindowDoc
	for rows.Next() {
		doc := WindowDoc{WorkspaceID: workspaceID}
		var lastActive sql.NullTime
		if err := rows.Scan(&doc.InternalWindowID, &doc.Title, &doc.IsActive, &lastActive, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		if lastActive.Valid {
			doc.LastActive = lastActive.Time
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range docs {
		docs[i].Tabs, err = queryTabs(db, workspaceID, docs[i].InternalWindowID)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// CountWindows returns the number of window documents in a workspace.
func CountWindows(db *sql.DB, workspaceID string) (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM windows WHERE workspace_id = ?", workspaceID).Scan(&n)
	return n, err
}

// UpdateInboxTabAI writes a classification result into the matching inbox
// record. Locked records are never touched. Returns false if no record was
// updated — the tab may have been deleted while classification ran.
func UpdateInboxTabAI(db *sql.DB, uid string, ai AIData) (bool, error) {
	var checked interface{}
	if !ai.LastChecked.IsZero() {
		checked = ai.LastChecked
	}
	res, err := db.Exec(`UPDATE tabs
		SET ai_status = ?, ai_category = ?, ai_confidence = ?, ai_reasoning = ?, ai_last_checked = ?
		WHERE uid = ? AND workspace_id = '' AND ai_locked = 0`,
		ai.Status, ai.Category, ai.Confidence, ai.Reasoning, checked, uid)
	if err != nil {
		return false, fmt.Errorf("update tab ai: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
