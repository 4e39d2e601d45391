// Package store persists the per-chat record collections (tasks, settings,
// workouts, groceries). Each (chat, collection) pair lives in its own JSON
// document which is always rewritten in full through a temp file + rename,
// so a reader sees either the previous document or the new one.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// SchemaVersion is written into every document envelope.
	SchemaVersion = 1

	defaultDataDir = "./data"
)

// Collection names one of the per-chat record sets.
type Collection string

const (
	Tasks     Collection = "tasks"
	Settings  Collection = "settings"
	Workouts  Collection = "workouts"
	Groceries Collection = "groceries"
)

// Collections lists every known collection.
var Collections = []Collection{Tasks, Settings, Workouts, Groceries}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	switch c {
	case Tasks, Settings, Workouts, Groceries:
		return true
	}
	return false
}

// document is the on-disk envelope around a collection.
type document struct {
	Version    int             `json:"version"`
	ChatID     string          `json:"chat_id"`
	Collection Collection      `json:"collection"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Records    json.RawMessage `json:"records"`
}

// legacyFileSanitizer is the lossy file naming used before chat ids were
// escaped. Documents written under it are still read and migrated.
var legacyFileSanitizer = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Store reads and writes per-chat documents under a data directory.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mapMu  sync.Mutex
	fileMu map[string]*sync.Mutex // per (chat, collection) write lock
}

// New creates a Store rooted at dir and ensures the directory exists.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		dir = defaultDataDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "store"),
		now:    time.Now,
		fileMu: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the document path for a chat's collection.
func (s *Store) Path(chatID string, c Collection) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", c, escapeChatID(chatID)))
}

func (s *Store) legacyPath(chatID string, c Collection) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", c, legacyFileSanitizer.ReplaceAllString(chatID, "_")))
}

// escapeChatID maps a chat id to a file name fragment. Letters, digits, '.'
// and '-' are kept; every other byte, '_' included, becomes "_xx" in hex, so
// distinct ids never share a document.
func escapeChatID(chatID string) string {
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	b.Grow(len(chatID))
	for i := 0; i < len(chatID); i++ {
		ch := chatID[i]
		switch {
		case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9', ch == '.', ch == '-':
			b.WriteByte(ch)
		default:
			b.WriteByte('_')
			b.WriteByte(hexDigits[ch>>4])
			b.WriteByte(hexDigits[ch&0x0f])
		}
	}
	return b.String()
}

func (s *Store) checkKey(chatID string, c Collection) error {
	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("%w: empty chat id", ErrInvalidKey)
	}
	if !c.Valid() {
		return fmt.Errorf("%w: unknown collection %q", ErrInvalidKey, c)
	}
	return nil
}

// lockFor returns the write lock for the given document.
func (s *Store) lockFor(chatID string, c Collection) *sync.Mutex {
	key := string(c) + "/" + escapeChatID(chatID)
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if m, ok := s.fileMu[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.fileMu[key] = m
	return m
}

// Load returns the records of a chat's collection in stored order.
// A missing document yields an empty slice.
func Load[T any](s *Store, chatID string, c Collection) ([]T, error) {
	if err := s.checkKey(chatID, c); err != nil {
		return nil, err
	}
	return load[T](s, chatID, c)
}

// Save replaces the whole collection with records.
func Save[T any](s *Store, chatID string, c Collection, records []T) error {
	if err := s.checkKey(chatID, c); err != nil {
		return err
	}
	mu := s.lockFor(chatID, c)
	mu.Lock()
	defer mu.Unlock()
	return save(s, chatID, c, records)
}

// Update runs a load → fn → save cycle while holding the document's write
// lock, so concurrent updates of the same collection never interleave.
// When fn returns an error nothing is written and the error is returned.
func Update[T any](s *Store, chatID string, c Collection, fn func([]T) ([]T, error)) ([]T, error) {
	if err := s.checkKey(chatID, c); err != nil {
		return nil, err
	}
	mu := s.lockFor(chatID, c)
	mu.Lock()
	defer mu.Unlock()

	current, err := load[T](s, chatID, c)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if err := save(s, chatID, c, next); err != nil {
		return nil, err
	}
	return next, nil
}

func load[T any](s *Store, chatID string, c Collection) ([]T, error) {
	path := s.Path(chatID, c)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		path, raw, err = s.readLegacy(chatID, c)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return []T{}, nil
		}
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []T{}, nil
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &StorageError{Op: "decode", Path: path, Err: err}
	}
	if doc.Version > SchemaVersion {
		return nil, &StorageError{Op: "decode", Path: path,
			Err: fmt.Errorf("unsupported schema version %d", doc.Version)}
	}
	if doc.ChatID != "" && doc.ChatID != chatID {
		return nil, &StorageError{Op: "decode", Path: path,
			Err: fmt.Errorf("document belongs to chat %q", doc.ChatID)}
	}

	records := []T{}
	if len(doc.Records) > 0 && string(doc.Records) != "null" {
		if err := json.Unmarshal(doc.Records, &records); err != nil {
			return nil, &StorageError{Op: "decode", Path: path, Err: err}
		}
	}
	return records, nil
}

func save[T any](s *Store, chatID string, c Collection, records []T) error {
	path := s.Path(chatID, c)
	if records == nil {
		records = []T{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}
	payload, err := json.MarshalIndent(document{
		Version:    SchemaVersion,
		ChatID:     chatID,
		Collection: c,
		UpdatedAt:  s.now().UTC(),
		Records:    body,
	}, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}
	if err := writeFileAtomic(path, append(payload, '\n'), 0o600); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if legacy, _, err := s.readLegacy(chatID, c); err == nil && legacy != path {
		if err := os.Remove(legacy); err == nil {
			s.logger.Info("migrated legacy document", "chat_id", chatID, "collection", c, "path", path)
		}
	}
	s.logger.Debug("collection saved", "chat_id", chatID, "collection", c, "records", len(records))
	return nil
}

// readLegacy reads a document stored under the old lossy file name. It
// reports os.ErrNotExist unless the document exists and its envelope names
// chatID, so a colliding id never picks up another chat's records.
func (s *Store) readLegacy(chatID string, c Collection) (string, []byte, error) {
	path := s.legacyPath(chatID, c)
	if path == s.Path(chatID, c) {
		return path, nil, os.ErrNotExist
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return path, nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil || doc.ChatID != chatID {
		return path, nil, os.ErrNotExist
	}
	return path, raw, nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// Chats returns the ids of every chat that has a document for collection c,
// sorted. Unreadable documents are logged and skipped.
func (s *Store) Chats(c Collection) ([]string, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: unknown collection %q", ErrInvalidKey, c)
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, string(c)+"_*.json"))
	if err != nil {
		return nil, &StorageError{Op: "read", Path: s.dir, Err: err}
	}

	seen := make(map[string]bool, len(matches))
	var chats []string
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable document", "path", path, "error", err)
			continue
		}
		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil || doc.ChatID == "" {
			s.logger.Warn("skipping document without chat id", "path", path)
			continue
		}
		if !seen[doc.ChatID] {
			seen[doc.ChatID] = true
			chats = append(chats, doc.ChatID)
		}
	}
	sort.Strings(chats)
	return chats, nil
}
