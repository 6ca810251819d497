// Package store implements the content-addressed blob store: the entry
// model, import pipeline, partial-download lifecycle, export, tags and
// temp tags, startup reconciliation, and deletion described in
// SPEC_FULL.md. The filesystem under Options.Root is the authoritative
// object store; the metadata index in package meta is a rebuildable
// cache.
package store

import (
	"fmt"
	"os"
	"sync"

	"flatstore/meta"
	"flatstore/state"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheSize bounds the LRU cache of recently-looked-up complete-entry
// metadata.
const cacheSize = 1000

// Store is the content-addressed blob store.
type Store struct {
	opts  Options
	meta  *meta.Index
	state *state.State

	// completeIOMutex serializes every sequence that mutates the
	// complete-area filesystem *and* the complete table together: import
	// commit, promotion from partial, and delete. Without it a second
	// writer could observe the index and filesystem disagreeing about
	// ownership of <H>.data/<H>.obao4 (spec.md §5).
	completeIOMutex sync.Mutex

	cache *lru.Cache[string, meta.CompleteEntry]
}

// Load opens (creating if necessary) a store rooted at opts.Root. When the
// index file does not exist yet but the complete or partial directory
// already holds files, Load rebuilds the index from a filesystem scan and
// removes superseded legacy files. When the index file already exists,
// Load opens it as it is and does not scan the filesystem;
// SyncMetaFromFiles runs that scan on demand.
func Load(opts Options) (*Store, error) {
	for _, dir := range []string{opts.CompletePath(), opts.PartialPath(), opts.MetaDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}

	_, statErr := os.Stat(opts.MetaPath())
	needsMigration := os.IsNotExist(statErr) && directoryHasFiles(opts.CompletePath(), opts.PartialPath())

	idx, err := meta.Open(opts.MetaPath())
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}

	cache, err := lru.New[string, meta.CompleteEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("store: create cache: %w", err)
	}

	s := &Store{
		opts:  opts,
		meta:  idx,
		state: state.New(),
		cache: cache,
	}

	if needsMigration {
		if err := s.reconcileFromFilesystem(); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("store: legacy migration: %w", err)
		}
		if err := s.cleanupLegacyFiles(); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("store: legacy cleanup: %w", err)
		}
	}

	return s, nil
}

// Close closes the metadata index.
func (s *Store) Close() error {
	return s.meta.Close()
}

func directoryHasFiles(dirs ...string) bool {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(entries) > 0 {
			return true
		}
	}
	return false
}
