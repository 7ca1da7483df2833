// Package history implements the append-only conversation history log: a
// single text file under the config home, each line one persisted user
// message, addressed by (log_id, offset) where log_id identifies the
// incarnation of the file seen when the Store was constructed, so a log
// rotated or deleted between two constructions is detected rather than
// silently misread. The id is not recomputed afterwards: a rotation while a
// Store is live keeps the same id.
package history

import (
	"bufio"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/codex-core/codex/internal/protocol"
)

const fileName = "history.jsonl"

// sensitivePatterns are checked against a candidate entry before it is
// appended; a match causes the append to be silently skipped, matching the
// "never persist obvious secrets" behavior described in spec §4.F.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)\bsk-[a-zA-Z0-9]{20,}\b`),
	regexp.MustCompile(`(?i)\baws_secret_access_key\s*=`),
}

// IsSensitive reports whether text matches a pattern that should never be
// persisted to the history log.
func IsSensitive(text string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Store is the append-only history log for one config home. Safe for
// concurrent use within a process (mu) and across processes (flock).
type Store struct {
	mu       sync.Mutex
	path     string
	lockPath string
	logID    uint64
}

// New prepares the history log under dir, creating dir if absent; the log
// file itself is created by the first Append. Since Go's os.FileInfo doesn't
// portably expose an inode, logID is not an inode: it is computed once here
// by computeLogID from the log's path and, when the file exists, its
// modification time and size.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	path := filepath.Join(dir, fileName)
	s := &Store{path: path, lockPath: path + ".lock"}
	s.logID = s.computeLogID()
	return s, nil
}

// computeLogID hashes the log's path together with the file's modification
// time and size at the moment of the call (the path alone when the file does
// not exist yet), so a log that changed between two Store constructions gets
// a different id than the one callers may still be holding a stale offset
// against; a plain hash of the path alone would not detect rotation.
func (s *Store) computeLogID() uint64 {
	h := fnv.New64a()
	h.Write([]byte(s.path))
	if fi, err := os.Stat(s.path); err == nil {
		fmt.Fprintf(h, ":%d:%d", fi.ModTime().UnixNano(), fi.Size())
	}
	return h.Sum64()
}

// LogID returns the log identifier computed when this Store was constructed.
func (s *Store) LogID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logID
}

// EntryCount returns the number of entries currently in the log.
func (s *Store) EntryCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

// Append appends text as a new history entry unless it matches a sensitive
// pattern, returning the offset the entry was written at. The append is
// flushed and fsynced before returning, and is serialized across processes
// with an advisory file lock since the log is a plain file shared by every
// codex process on the host.
func (s *Store) Append(text string) (offset int, skipped bool, err error) {
	if IsSensitive(text) {
		return 0, true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fl := flock.New(s.lockPath)
	if err := fl.Lock(); err != nil {
		return 0, false, fmt.Errorf("history: acquire lock: %w", err)
	}
	defer fl.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return 0, false, fmt.Errorf("history: open: %w", err)
	}
	defer f.Close()

	offset, err = s.countLines(f)
	if err != nil {
		return 0, false, err
	}

	entry := protocol.HistoryEntry{Text: text, LogID: s.logID, Offset: offset}
	line := strings.ReplaceAll(entry.Text, "\n", "\\n")
	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		return 0, false, fmt.Errorf("history: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, false, fmt.Errorf("history: fsync: %w", err)
	}

	return offset, false, nil
}

func (s *Store) countLines(f *os.File) (int, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	if _, err := f.Seek(0, 2); err != nil {
		return 0, err
	}
	return count, scanner.Err()
}

// Get reads the entry at (logID, offset). A stale logID (one that differs
// from the id this Store computed at construction) returns a nil entry
// rather than an error, as do a missing file and an out-of-range offset.
func (s *Store) Get(logID uint64, offset int) (*protocol.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if logID != s.logID {
		return nil, nil
	}

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	i := 0
	for scanner.Scan() {
		if i == offset {
			text := strings.ReplaceAll(scanner.Text(), "\\n", "\n")
			return &protocol.HistoryEntry{Text: text, LogID: logID, Offset: offset}, nil
		}
		i++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}
