// Package store implements the append-oriented item journal: an active
// items file, an archive journal, and an advisory lock guarding both.
// Writes are atomic (temp file + rename), grounded on the write pattern in
// internal/task/state.go of the teacher repo, generalized from a flat
// pipe-delimited task file to the richer JSON item record of spec §3.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"

	"github.com/sirhamy/phase-golem/internal/item"
	"github.com/sirhamy/phase-golem/internal/lock"
)

const schemaVersion = 1

// lockPollInterval and lockTimeout bound how long WithLock waits to acquire
// the advisory lock before reporting *LockTimeoutError (spec §4.1's
// lock-timeout / retry contract lives one level up, in the Coordinator --
// the store itself just gives up after a bounded wait per attempt).
const (
	lockPollInterval = 25 * time.Millisecond
	lockTimeout      = 2 * time.Second
)

type activeFile struct {
	SchemaVersion int         `json:"schema_version"`
	Items         []item.Item `json:"items"`
}

// Store is the item journal. It is safe to share across goroutines; all
// mutating access must go through WithLock.
type Store struct {
	dir         string
	activePath  string
	archivePath string
	lockPath    string

	mu         sync.Mutex // serializes in-process callers; flock serializes cross-process
	lastHash   uint64
	lastItems  []item.Item
	haveLoaded bool
}

// New constructs a Store rooted at dir (typically {root}/.phase-golem).
func New(dir string) *Store {
	return &Store{
		dir:         dir,
		activePath:  filepath.Join(dir, "items.json"),
		archivePath: filepath.Join(dir, "archive.jsonl"),
		lockPath:    filepath.Join(dir, "items.lock"),
	}
}

// Initialized reports whether the store's persistence directory exists,
// backing preflight Phase 0 (spec §4.5).
func (s *Store) Initialized() bool {
	_, err := os.Stat(s.dir)
	return err == nil
}

// Dir returns the store's persistence directory, so callers that need to
// stage it into a commit (the Coordinator, ahead of a git commit) don't
// need to track the path separately.
func (s *Store) Dir() string {
	return s.dir
}

// WithLock runs f under the store's advisory file lock, following the
// same non-blocking-poll pattern as internal/lock but scoped to the item
// journal rather than the whole process. Returns *LockTimeoutError if the
// lock cannot be acquired within lockTimeout.
func (s *Store) WithLock(f func() error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: creating %q: %w", s.dir, err)
	}

	lf, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("store: opening lock file: %w", err)
	}
	defer lf.Close() //nolint:errcheck

	deadline := time.Now().Add(lockTimeout)
	for {
		if err := flock(lf); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return &LockTimeoutError{Waited: lockTimeout}
		}
		time.Sleep(lockPollInterval)
	}
	defer funlock(lf) //nolint:errcheck

	s.mu.Lock()
	defer s.mu.Unlock()

	return f()
}

// LoadActive reads the active items file. If the file does not exist, it
// returns an empty slice (an uninitialized store is a Phase-0 preflight
// concern, not a load error). Uses an xxhash fingerprint to skip re-parsing
// when the file content is unchanged since the last read within this
// process, avoiding redundant JSON decodes on the Coordinator's hot path.
func (s *Store) LoadActive() ([]item.Item, error) {
	data, err := os.ReadFile(s.activePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []item.Item{}, nil
		}
		return nil, fmt.Errorf("store: reading active items: %w", err)
	}
	if len(data) == 0 {
		return []item.Item{}, nil
	}

	h := xxhash.Sum64(data)
	if s.haveLoaded && h == s.lastHash {
		out := make([]item.Item, len(s.lastItems))
		for i, it := range s.lastItems {
			out[i] = it.Clone()
		}
		return out, nil
	}

	var af activeFile
	if err := json.Unmarshal(data, &af); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if af.SchemaVersion > schemaVersion {
		return nil, fmt.Errorf("%w: file schema %d, engine supports up to %d", ErrSchemaUnsupported, af.SchemaVersion, schemaVersion)
	}

	s.lastHash = h
	s.lastItems = af.Items
	s.haveLoaded = true

	out := make([]item.Item, len(af.Items))
	for i, it := range af.Items {
		out[i] = it.Clone()
	}
	return out, nil
}

// SaveActive writes the full active item list atomically (temp file +
// rename), matching the teacher's writeAtomic pattern in
// internal/task/state.go.
func (s *Store) SaveActive(items []item.Item) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: creating %q: %w", s.dir, err)
	}

	sorted := make([]item.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	af := activeFile{SchemaVersion: schemaVersion, Items: sorted}
	data, err := json.MarshalIndent(&af, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshaling active items: %w", err)
	}

	tmp := s.activePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: writing temp active file: %w", err)
	}
	if err := os.Rename(tmp, s.activePath); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("store: renaming temp active file: %w", err)
	}

	s.lastHash = xxhash.Sum64(data)
	s.lastItems = sorted
	s.haveLoaded = true
	return nil
}

// AppendToArchive appends one item as a JSON line to the archive journal.
func (s *Store) AppendToArchive(it item.Item) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: creating %q: %w", s.dir, err)
	}
	f, err := os.OpenFile(s.archivePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: opening archive: %w", err)
	}
	defer f.Close() //nolint:errcheck

	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("store: marshaling archived item: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("store: writing archive entry: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("store: writing archive entry: %w", err)
	}
	return w.Flush()
}

// AllKnownIDs returns the set of ids present in either the active items
// file or the archive journal, used to generate collision-free new ids.
func (s *Store) AllKnownIDs() (map[string]struct{}, error) {
	ids := make(map[string]struct{})

	active, err := s.LoadActive()
	if err != nil {
		return nil, err
	}
	for _, it := range active {
		ids[it.ID] = struct{}{}
	}

	f, err := os.Open(s.archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, nil
		}
		return nil, fmt.Errorf("store: reading archive: %w", err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var it item.Item
		if err := json.Unmarshal(scanner.Bytes(), &it); err != nil {
			continue
		}
		ids[it.ID] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: scanning archive: %w", err)
	}
	return ids, nil
}

// SweepResultFiles removes stray phase_result_*.json files under the
// store directory, per spec §3 ("stale result files are swept" at process
// start and on normal shutdown). Pattern resolution uses doublestar so the
// same glob engine used by preflight's workflow-file check covers this
// sweep too.
func (s *Store) SweepResultFiles() (int, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(s.dir, "phase_result_*.json"))
	if err != nil {
		return 0, fmt.Errorf("store: globbing result files: %w", err)
	}
	swept := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			swept++
		}
	}
	return swept, nil
}
