package store

import (
	"database/sql"
	"fmt"
	"time"
)

// QueueItem is one persisted unit of classification work. TabHandle is the
// physical tab at enqueue time; it may be stale by the time the item is
// processed.
type QueueItem struct {
	UID        string
	URL        string
	Title      string
	TabHandle  int64
	Attempts   int
	EnqueuedAt time.Time
}

// QueueState is the persisted mutual-exclusion marker for the queue plus
// the timestamp of the last external classifier call.
type QueueState struct {
	Processing bool
	LockedAt   time.Time // zero if never locked
	LastCallAt time.Time // zero if never called
}

// LoadQueue returns the persisted queue, oldest item first.
func LoadQueue(db *sql.DB) ([]QueueItem, error) {
	rows, err := db.Query(
		"SELECT uid, url, title, tab_handle, attempts, enqueued_at FROM queue ORDER BY enqueued_at, rowid",
	)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var result []QueueItem
	for rows.Next() {
		var q QueueItem
		if err := rows.Scan(&q.UID, &q.URL, &q.Title, &q.TabHandle, &q.Attempts, &q.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

// AppendQueue adds items to the queue. A uid already enqueued is silently
// skipped — at most one in-flight item per logical uid.
func AppendQueue(db *sql.DB, items []QueueItem) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO queue (uid, url, title, tab_handle, enqueued_at) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, q := range items {
		at := q.EnqueuedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.Exec(q.UID, q.URL, q.Title, q.TabHandle, at); err != nil {
			return fmt.Errorf("enqueue %s: %w", q.UID, err)
		}
	}
	return tx.Commit()
}

// RemoveFromQueue deletes every queue row carrying the given uid,
// including accidental duplicates.
func RemoveFromQueue(db *sql.DB, uid string) error {
	_, err := db.Exec("DELETE FROM queue WHERE uid = ?", uid)
	return err
}

// BumpAttempts increments the attempt counter of a queue item.
func BumpAttempts(db *sql.DB, uid string) error {
	_, err := db.Exec("UPDATE queue SET attempts = attempts + 1 WHERE uid = ?", uid)
	return err
}

// LoadQueueState reads the lock state and last-call timestamp. Always read
// fresh before acting — never trust an in-memory copy across suspension
// points.
func LoadQueueState(db *sql.DB) (QueueState, error) {
	var s QueueState
	var lockedAt, lastCallAt int64
	err := db.QueryRow("SELECT is_processing, locked_at, last_call_at FROM queue_state WHERE id = 1").
		Scan(&s.Processing, &lockedAt, &lastCallAt)
	if err != nil {
		return QueueState{}, fmt.Errorf("query queue state: %w", err)
	}
	if lockedAt > 0 {
		s.LockedAt = time.UnixMilli(lockedAt)
	}
	if lastCallAt > 0 {
		s.LastCallAt = time.UnixMilli(lastCallAt)
	}
	return s, nil
}

// SetProcessing writes the lock flag with the given timestamp. A zero time
// stores 0, which reads back as "never locked".
func SetProcessing(db *sql.DB, processing bool, at time.Time) error {
	var millis int64
	if !at.IsZero() {
		millis = at.UnixMilli()
	}
	_, err := db.Exec("UPDATE queue_state SET is_processing = ?, locked_at = ? WHERE id = 1", processing, millis)
	return err
}

// SetLastCall records when the external classifier was last invoked.
func SetLastCall(db *sql.DB, at time.Time) error {
	_, err := db.Exec("UPDATE queue_state SET last_call_at = ? WHERE id = 1", at.UnixMilli())
	return err
}
