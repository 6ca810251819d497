package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"flatstore/blobhash"
	"flatstore/filename"
	"flatstore/meta"
	"flatstore/outboard"
	"flatstore/storeerr"

	"github.com/dgraph-io/badger/v4"
)

type fullEntry struct {
	hasData     bool
	hasOutboard bool
	pathsFile   string
}

type partialFiles struct {
	hasData     bool
	hasOutboard bool
}

// scanFilesystem enumerates the complete and partial directories and
// classifies every file via the filename codec (spec.md §4.10).
func (s *Store) scanFilesystem() (map[blobhash.Hash]*fullEntry, map[blobhash.Hash]map[[16]byte]*partialFiles, error) {
	full := make(map[blobhash.Hash]*fullEntry)
	partial := make(map[blobhash.Hash]map[[16]byte]*partialFiles)

	completeEntries, err := os.ReadDir(s.opts.CompletePath())
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("%w: read %s: %v", storeerr.ErrIoFailure, s.opts.CompletePath(), err)
	}
	for _, de := range completeEntries {
		fn, err := filename.Parse(de.Name())
		if err != nil {
			continue
		}
		e := full[fn.Hash]
		if e == nil {
			e = &fullEntry{}
			full[fn.Hash] = e
		}
		switch fn.Kind {
		case filename.CompleteData:
			e.hasData = true
		case filename.CompleteOutboard:
			e.hasOutboard = true
		case filename.LegacyPaths:
			e.pathsFile = filepath.Join(s.opts.CompletePath(), de.Name())
		}
	}

	partialEntries, err := os.ReadDir(s.opts.PartialPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("%w: read %s: %v", storeerr.ErrIoFailure, s.opts.PartialPath(), err)
	}
	for _, de := range partialEntries {
		fn, err := filename.Parse(de.Name())
		if err != nil {
			continue
		}
		if fn.Kind != filename.PartialData && fn.Kind != filename.PartialOutboard {
			continue
		}
		byUuid := partial[fn.Hash]
		if byUuid == nil {
			byUuid = make(map[[16]byte]*partialFiles)
			partial[fn.Hash] = byUuid
		}
		pf := byUuid[fn.Uuid]
		if pf == nil {
			pf = &partialFiles{}
			byUuid[fn.Uuid] = pf
		}
		if fn.Kind == filename.PartialData {
			pf.hasData = true
		} else {
			pf.hasOutboard = true
		}
	}

	return full, partial, nil
}

// readLegacyPaths parses a legacy "<H>.paths" file: one absolute path per
// non-empty line.
func readLegacyPaths(path string) []string {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// reconcileFromFilesystem rebuilds the complete and partial tables from
// the filesystem scan and commits them, discarding whatever the index
// previously held. Used both for legacy migration and for
// SyncMetaFromFiles.
func (s *Store) reconcileFromFilesystem() error {
	full, partial, err := s.scanFilesystem()
	if err != nil {
		return err
	}
	defer s.cache.Purge()

	completes := make(map[blobhash.Hash]meta.CompleteEntry)
	for h, e := range full {
		var external []string
		if e.pathsFile != "" {
			external = readLegacyPaths(e.pathsFile)
		}

		var size uint64
		var sizeKnown bool
		if e.hasData {
			if info, err := os.Stat(s.completeDataPath(h)); err == nil {
				size = uint64(info.Size())
				sizeKnown = true
			}
		}
		if !sizeKnown && len(external) > 0 {
			if info, err := os.Stat(external[0]); err == nil {
				size = uint64(info.Size())
				sizeKnown = true
			}
		}
		if !sizeKnown {
			log.Printf("flatstore: reconciliation: dropping %s, no readable data source", h)
			continue
		}
		if size > outboard.LeafSize && !e.hasOutboard {
			log.Printf("flatstore: reconciliation: dropping %s, orphaned data file with no outboard", h)
			continue
		}
		completes[h] = meta.CompleteEntry{Size: size, OwnedData: e.hasData, External: external}
	}

	partials := make(map[blobhash.Hash]meta.PartialEntryData)
	for h, byUuid := range partial {
		if _, isComplete := completes[h]; isComplete {
			// complete supersedes partial; its partial files are removed
			for u := range byUuid {
				_ = os.Remove(s.partialDataPath(h, u))
				_ = os.Remove(s.partialOutboardPath(h, u))
			}
			continue
		}
		var bestUuid [16]byte
		var bestSize int64 = -1
		for u, pf := range byUuid {
			if !pf.hasData || !pf.hasOutboard {
				continue // orphan half-pair, discarded
			}
			obHead, err := readFileHead(s.partialOutboardPath(h, u), 8)
			if err != nil {
				continue
			}
			if _, ok := outboard.DeclaredSize(obHead); !ok {
				continue
			}
			info, err := os.Stat(s.partialDataPath(h, u))
			if err != nil {
				continue
			}
			current := info.Size()
			if current > bestSize {
				bestSize = current
				bestUuid = u
			}
		}
		if bestSize < 0 {
			continue
		}
		obHead, _ := readFileHead(s.partialOutboardPath(h, bestUuid), 8)
		declared, _ := outboard.DeclaredSize(obHead)
		partials[h] = meta.PartialEntryData{Size: declared, Uuid: bestUuid}

		for u := range byUuid {
			if u != bestUuid {
				_ = os.Remove(s.partialDataPath(h, u))
				_ = os.Remove(s.partialOutboardPath(h, u))
			}
		}
	}

	return s.meta.DB().Update(func(txn *badger.Txn) error {
		if err := meta.ClearComplete(txn); err != nil {
			return err
		}
		if err := meta.ClearPartial(txn); err != nil {
			return err
		}
		for h, ce := range completes {
			if err := meta.PutComplete(txn, h, ce); err != nil {
				return err
			}
		}
		for h, pd := range partials {
			if err := meta.PutPartial(txn, h, pd); err != nil {
				return err
			}
		}
		return nil
	})
}

// SyncMetaFromFiles reruns the filesystem scan against the already-open
// index and replaces its complete/partial contents, preserving External
// paths recorded by prior imports/exports for hashes the scan still
// finds owned-or-referenced data for. Idempotent: running it twice in a
// row produces identical index contents (spec.md §8).
func (s *Store) SyncMetaFromFiles() error {
	s.completeIOMutex.Lock()
	defer s.completeIOMutex.Unlock()

	existingExternal := make(map[blobhash.Hash][]string)
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		return meta.ForEachComplete(txn, func(h blobhash.Hash, ce meta.CompleteEntry) error {
			if len(ce.External) > 0 {
				existingExternal[h] = append([]string(nil), ce.External...)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}

	if err := s.reconcileFromFilesystem(); err != nil {
		return err
	}

	if len(existingExternal) == 0 {
		return nil
	}
	return s.meta.DB().Update(func(txn *badger.Txn) error {
		for h, external := range existingExternal {
			ce, ok, err := meta.GetComplete(txn, h)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			seen := make(map[string]bool, len(ce.External))
			for _, p := range ce.External {
				seen[p] = true
			}
			for _, p := range external {
				if !seen[p] {
					seen[p] = true
					ce.External = append(ce.External, p)
				}
			}
			if err := meta.PutComplete(txn, h, ce); err != nil {
				return err
			}
			s.invalidateCache(h)
		}
		return nil
	})
}

// cleanupLegacyFiles removes filenames superseded by the current schema
// (legacy ".paths" files and any old top-level "tags.meta" file) after a
// successful legacy-to-current migration.
func (s *Store) cleanupLegacyFiles() error {
	entries, err := os.ReadDir(s.opts.CompletePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	for _, de := range entries {
		fn, err := filename.Parse(de.Name())
		if err != nil {
			continue
		}
		if fn.Kind == filename.LegacyPaths {
			_ = os.Remove(filepath.Join(s.opts.CompletePath(), de.Name()))
		}
	}
	legacyTags := filepath.Join(s.opts.Root, "tags.meta")
	if _, err := os.Stat(legacyTags); err == nil {
		_ = os.Remove(legacyTags)
	}
	return nil
}

func readFileHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:read], nil
}
