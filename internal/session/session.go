// Package session imports tabs from Firefox session-restore files into the
// inbox. It reads the browser's sessionstore backups (mozlz4-compressed
// JSON), so tabs from a crashed or not-yet-connected browser can be pulled
// in without the bridge extension.
package session

import (
	"bufio"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/nyviadk/nexus/internal/applog"
	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/store"
	"github.com/pierrec/lz4/v4"
)

// mozlz4 header: 8-byte magic "mozLz40\x00"
var mozLz4Magic = []byte("mozLz40\x00")

// DecompressMozLz4 decompresses data in Mozilla's mozlz4 format: the magic
// header, a 4-byte LE uint32 uncompressed size, then one lz4 block.
func DecompressMozLz4(data []byte) ([]byte, error) {
	const headerSize = 12 // 8 magic + 4 size

	if len(data) < headerSize {
		return nil, fmt.Errorf("mozlz4: data too short (%d bytes)", len(data))
	}
	for i := 0; i < len(mozLz4Magic); i++ {
		if data[i] != mozLz4Magic[i] {
			return nil, fmt.Errorf("mozlz4: invalid header magic")
		}
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[8:12])

	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data[headerSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("mozlz4: decompress failed: %w", err)
	}
	return dst[:n], nil
}

// Raw JSON types for the Firefox session file.
type rawEntry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type rawTab struct {
	Entries []rawEntry `json:"entries"`
	Index   int        `json:"index"`
	Image   string     `json:"image"`
	Pinned  bool       `json:"pinned"`
	Hidden  bool       `json:"hidden"`
}

type rawWindow struct {
	Tabs      []rawTab `json:"tabs"`
	IsPrivate bool     `json:"isPrivate"`
}

type rawSession struct {
	Windows []rawWindow `json:"windows"`
}

// SessionTab is one open tab recovered from a session file.
type SessionTab struct {
	URL     string
	Title   string
	Favicon string
	Pinned  bool
	Private bool
}

// ParseSession extracts the currently open tabs from decompressed session
// JSON. Each tab's history stack is collapsed to its current entry
// (entries[index-1]); hidden tabs are skipped.
func ParseSession(data []byte) ([]SessionTab, error) {
	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse session JSON: %w", err)
	}

	var tabs []SessionTab
	for _, window := range raw.Windows {
		for _, rt := range window.Tabs {
			if rt.Hidden || len(rt.Entries) == 0 {
				continue
			}
			// index is 1-based; the current page is entries[index-1].
			entryIdx := rt.Index - 1
			if entryIdx < 0 || entryIdx >= len(rt.Entries) {
				entryIdx = len(rt.Entries) - 1
			}
			entry := rt.Entries[entryIdx]
			tabs = append(tabs, SessionTab{
				URL:     entry.URL,
				Title:   entry.Title,
				Favicon: rt.Image,
				Pinned:  rt.Pinned,
				Private: window.IsPrivate,
			})
		}
	}
	return tabs, nil
}

// ReadSessionFile reads and parses a session file from a profile directory,
// trying recovery.jsonlz4 (live session) before previous.jsonlz4.
func ReadSessionFile(profileDir string) ([]SessionTab, error) {
	backupDir := filepath.Join(profileDir, "sessionstore-backups")
	var data []byte
	var err error
	for _, name := range []string{"recovery.jsonlz4", "previous.jsonlz4"} {
		data, err = os.ReadFile(filepath.Join(backupDir, name))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("no session file found in %s", backupDir)
	}

	decompressed, err := DecompressMozLz4(data)
	if err != nil {
		return nil, fmt.Errorf("decompress session file: %w", err)
	}
	return ParseSession(decompressed)
}

// ImportInbox merges the tabs of a profile's session file into the inbox.
// Matching is by URL: tabs already present keep their record (and any
// classification); new tabs are appended pending. Internal and private
// tabs are skipped. Returns the number of tabs added.
func ImportInbox(db *sql.DB, profileDir string) (int, error) {
	tabs, err := ReadSessionFile(profileDir)
	if err != nil {
		return 0, err
	}

	inbox, err := store.InboxTabs(db)
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}
	present := make(map[string]bool, len(inbox))
	for _, rec := range inbox {
		present[rec.URL] = true
	}

	added := 0
	for _, t := range tabs {
		if t.Private || browser.IsInternalURL(t.URL, "") || present[t.URL] {
			continue
		}
		present[t.URL] = true
		inbox = append(inbox, store.TabRecord{
			UID:     uuid.NewString(),
			Title:   t.Title,
			URL:     t.URL,
			Favicon: t.Favicon,
			AI:      store.AIData{Status: store.AIPending},
		})
		added++
	}
	if added == 0 {
		return 0, nil
	}

	if err := store.WriteInboxTabs(db, inbox); err != nil {
		return 0, fmt.Errorf("write inbox: %w", err)
	}
	applog.Info("session.imported", "added", added, "profile", profileDir)
	return added, nil
}

// Profile is one Firefox profile found on this machine.
type Profile struct {
	Name       string
	Path       string
	IsRelative bool
	IsDefault  bool
}

// FindFirefoxDir returns the platform-specific Firefox profile directory.
func FindFirefoxDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "linux":
		return filepath.Join(home, ".mozilla", "firefox")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Firefox")
	default:
		return ""
	}
}

// ParseProfilesINI reads profiles.ini and returns the profiles that have a
// session file to import.
func ParseProfilesINI(iniPath, firefoxDir string) ([]Profile, error) {
	f, err := os.Open(iniPath)
	if err != nil {
		return nil, fmt.Errorf("open profiles.ini: %w", err)
	}
	defer f.Close()

	var profiles []Profile
	var current *Profile

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if current != nil {
				profiles = append(profiles, *current)
				current = nil
			}
			if strings.HasPrefix(line[1:len(line)-1], "Profile") {
				current = &Profile{}
			}
			continue
		}
		if current == nil {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "Name":
			current.Name = parts[1]
		case "Path":
			current.Path = parts[1]
		case "IsRelative":
			current.IsRelative = parts[1] == "1"
		case "Default":
			current.IsDefault = parts[1] == "1"
		}
	}
	if current != nil {
		profiles = append(profiles, *current)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan profiles.ini: %w", err)
	}

	for i := range profiles {
		if profiles[i].IsRelative {
			profiles[i].Path = filepath.Join(firefoxDir, profiles[i].Path)
		}
	}

	var usable []Profile
	for _, p := range profiles {
		backupDir := filepath.Join(p.Path, "sessionstore-backups")
		for _, name := range []string{"recovery.jsonlz4", "previous.jsonlz4"} {
			if _, err := os.Stat(filepath.Join(backupDir, name)); err == nil {
				usable = append(usable, p)
				break
			}
		}
	}
	return usable, nil
}

// DiscoverProfiles finds importable Firefox profiles on this system.
func DiscoverProfiles() ([]Profile, error) {
	dir := FindFirefoxDir()
	if dir == "" {
		return nil, fmt.Errorf("could not find Firefox directory for %s", runtime.GOOS)
	}
	return ParseProfilesINI(filepath.Join(dir, "profiles.ini"), dir)
}
