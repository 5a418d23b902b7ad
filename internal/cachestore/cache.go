// Package cachestore implements the Cache Store (spec §4.2): a
// content-addressed, gzip-compressed, crash-consistent persistent cache
// with LRU eviction and ZIP archive interop. The atomic temp-then-rename
// write pattern is grounded on the teacher's internal/capture/settings.go;
// compression uses klauspost/compress/gzip (the pack's established
// compression library, per aistore's go.mod) instead of hand-rolling a
// codec; checksums use xxhash (also from the pack's aistore/vjache-cie
// dependency set) for a fast, collision-resistant content hash.
package cachestore

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/webmirror/webmirror/internal/errs"
	"github.com/webmirror/webmirror/internal/model"
)

// Metadata is user-supplied, stored alongside the blob (spec §4.2).
type Metadata struct {
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	TTL         time.Duration     `json:"ttl"`
}

// CachedItem is returned on a hit.
type CachedItem struct {
	Bytes    []byte
	Metadata Metadata
	Entry    model.CacheEntry
}

// RequestOptions contribute to the cache key (e.g. Accept/Range headers
// that change the response body for the same URL).
type RequestOptions struct {
	Headers map[string]string
}

// Store is the process-wide Cache Store. It is safe for concurrent use:
// index mutations are serialized behind a single writer mutex while reads
// take a snapshot, per spec §5 "Shared-resource discipline".
type Store struct {
	mu        sync.RWMutex
	root      string
	index     map[string]model.CacheEntry
	totalSize int64
	maxSize   int64
	defaultTTL time.Duration
}

// Open initializes the store at root, running expiration maintenance over
// the existing index (spec §4.2 "Expiration ... maintenance on
// initialization removes expired entries").
func Open(root string, maxSize int64, defaultTTL time.Duration) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindDiskFull, "create cache root", err)
	}
	s := &Store{
		root:       root,
		index:      make(map[string]model.CacheEntry),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	s.expireLocked(time.Now())
	return s, nil
}

func (s *Store) indexPath() string  { return filepath.Join(s.root, "cache.index") }
func (s *Store) manifestPath() string { return filepath.Join(s.root, "cache.manifest") }
func (s *Store) dataPath(key string) string { return filepath.Join(s.root, key+".data") }
func (s *Store) metaPath(key string) string { return filepath.Join(s.root, key+".meta") }

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindCacheCorrupt, "read cache index", err)
	}
	var entries []model.CacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt index is non-fatal: start fresh rather than failing open.
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.index[e.Key] = e
		s.totalSize += e.Size
	}
	return nil
}

// writeIndexLocked persists the index via atomic temp-then-rename,
// mirroring the teacher's settings.go persistence idiom. Caller must hold
// s.mu for writing.
func (s *Store) writeIndexLocked() error {
	entries := make([]model.CacheEntry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return errs.Wrap(errs.KindDiskFull, "write cache index", err)
	}
	return os.Rename(tmpPath, s.indexPath())
}

// Key hashes the normalized URL plus contributing request headers, per
// spec §4.2 keying rule.
func Key(url string, opts RequestOptions) string {
	h := xxhash.New()
	_, _ = h.WriteString(url)
	if len(opts.Headers) > 0 {
		keys := make([]string, 0, len(opts.Headers))
		for k := range opts.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = h.WriteString(k)
			_, _ = h.WriteString("=")
			_, _ = h.WriteString(opts.Headers[k])
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Get implements get(url, request_options) -> Option<CachedItem>. On
// integrity mismatch the entry is removed and a miss is returned (spec
// §4.2 "Integrity").
func (s *Store) Get(url string, opts RequestOptions) (CachedItem, bool) {
	key := Key(url, opts)

	s.mu.RLock()
	entry, ok := s.index[key]
	s.mu.RUnlock()
	if !ok {
		return CachedItem{}, false
	}
	if entry.Expired(time.Now()) {
		s.removeEntry(key)
		return CachedItem{}, false
	}

	raw, err := os.ReadFile(s.dataPath(key))
	if err != nil {
		s.removeEntry(key)
		return CachedItem{}, false
	}

	body := raw
	if entry.Compressed {
		body, err = gunzip(raw)
		if err != nil {
			s.removeEntry(key)
			return CachedItem{}, false
		}
	}

	if checksum(body) != entry.Checksum {
		s.removeEntry(key)
		return CachedItem{}, false
	}

	metaRaw, err := os.ReadFile(s.metaPath(key))
	var meta Metadata
	if err == nil {
		_ = json.Unmarshal(metaRaw, &meta)
	}

	s.mu.Lock()
	entry.LastAccessed = time.Now()
	s.index[key] = entry
	s.mu.Unlock()

	return CachedItem{Bytes: body, Metadata: meta, Entry: entry}, true
}

// Set implements set(url, bytes, metadata, options). It compresses the
// blob, writes blob+metadata to disk, evicts via LRU if necessary, and
// atomically updates the index.
func (s *Store) Set(url string, data []byte, meta Metadata, opts RequestOptions) error {
	key := Key(url, opts)
	ttl := meta.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	compressed, err := gzipBytes(data)
	useCompressed := err == nil && len(compressed) < len(data)
	stored := data
	isCompressed := false
	if useCompressed {
		stored = compressed
		isCompressed = true
	}

	entry := model.CacheEntry{
		Key:          key,
		URL:          url,
		StoredAt:     time.Now(),
		LastAccessed: time.Now(),
		Size:         int64(len(stored)),
		ContentType:  meta.ContentType,
		Compressed:   isCompressed,
		Checksum:     checksum(data),
		TTL:          ttl,
	}

	s.mu.Lock()
	if existing, ok := s.index[key]; ok {
		s.totalSize -= existing.Size
	}
	needed := entry.Size
	if s.maxSize > 0 && s.totalSize+needed > s.maxSize {
		s.evictLRULocked(s.totalSize + needed - s.maxSize)
	}
	if s.maxSize > 0 && s.totalSize+needed > s.maxSize {
		s.mu.Unlock()
		return errs.New(errs.KindCacheFull, "cache full after eviction")
	}
	s.index[key] = entry
	s.totalSize += needed
	writeErr := s.writeIndexLocked()
	s.mu.Unlock()
	if writeErr != nil {
		return writeErr
	}

	if err := os.WriteFile(s.dataPath(key), stored, 0o600); err != nil {
		return errs.Wrap(errs.KindDiskFull, "write cache blob", err)
	}
	metaBytes, _ := json.Marshal(meta)
	if err := os.WriteFile(s.metaPath(key), metaBytes, 0o600); err != nil {
		return errs.Wrap(errs.KindDiskFull, "write cache metadata", err)
	}
	return nil
}

// evictLRULocked removes oldest-accessed entries until at least need bytes
// are reclaimed. Caller must hold s.mu.
func (s *Store) evictLRULocked(need int64) {
	type kv struct {
		key string
		at  time.Time
	}
	ordered := make([]kv, 0, len(s.index))
	for k, e := range s.index {
		ordered = append(ordered, kv{k, e.LastAccessed})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].at.Before(ordered[j].at) })

	var reclaimed int64
	for _, item := range ordered {
		if reclaimed >= need {
			break
		}
		e := s.index[item.key]
		reclaimed += e.Size
		s.totalSize -= e.Size
		delete(s.index, item.key)
		_ = os.Remove(s.dataPath(item.key))
		_ = os.Remove(s.metaPath(item.key))
	}
}

func (s *Store) removeEntry(key string) {
	s.mu.Lock()
	if e, ok := s.index[key]; ok {
		s.totalSize -= e.Size
		delete(s.index, key)
		_ = s.writeIndexLocked()
	}
	s.mu.Unlock()
	_ = os.Remove(s.dataPath(key))
	_ = os.Remove(s.metaPath(key))
}

func (s *Store) expireLocked(now time.Time) {
	for k, e := range s.index {
		if e.Expired(now) {
			delete(s.index, k)
			s.totalSize -= e.Size
			_ = os.Remove(s.dataPath(k))
			_ = os.Remove(s.metaPath(k))
		}
	}
	_ = s.writeIndexLocked()
}

// Clear removes every cache entry and blob.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.index {
		_ = os.Remove(s.dataPath(k))
		_ = os.Remove(s.metaPath(k))
	}
	s.index = make(map[string]model.CacheEntry)
	s.totalSize = 0
	return s.writeIndexLocked()
}

// Size returns the current total cached byte size.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSize
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// --- export/import (ZIP archive interop, spec §4.2 "Archive interop") ---

// archiveEntry is the per-entry record serialized into the ZIP export.
type archiveEntry struct {
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Metadata Metadata          `json:"metadata"`
	Content  string            `json:"content_base64"`
}

// ExportZIP serializes the store's contents to a ZIP archive at path, one
// JSON record per entry (spec §4.2: "each entry recording url/headers/
// metadata/base64-content").
func (s *Store) ExportZIP(path string) error {
	s.mu.RLock()
	entries := make([]model.CacheEntry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.KindDiskFull, "create archive", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	for _, e := range entries {
		raw, err := os.ReadFile(s.dataPath(e.Key))
		if err != nil {
			continue
		}
		body := raw
		if e.Compressed {
			body, err = gunzip(raw)
			if err != nil {
				continue
			}
		}
		metaRaw, _ := os.ReadFile(s.metaPath(e.Key))
		var meta Metadata
		_ = json.Unmarshal(metaRaw, &meta)

		rec := archiveEntry{
			URL:      e.URL,
			Metadata: meta,
			Content:  base64.StdEncoding.EncodeToString(body),
		}
		recBytes, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		w, err := zw.Create(e.Key + ".json")
		if err != nil {
			return err
		}
		if _, err := w.Write(recBytes); err != nil {
			return err
		}
	}
	return nil
}

// ImportZIP restores entries from a ZIP archive previously produced by
// ExportZIP, re-inserting each as if freshly Set.
func (s *Store) ImportZIP(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return errs.Wrap(errs.KindCacheCorrupt, "open archive", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			continue
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		var rec archiveEntry
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		body, err := base64.StdEncoding.DecodeString(rec.Content)
		if err != nil {
			continue
		}
		if err := s.Set(rec.URL, body, rec.Metadata, RequestOptions{Headers: rec.Headers}); err != nil {
			return err
		}
	}
	return nil
}

// CacheHeaders returns the browser-like header set the Fetch Pipeline
// should attach to outbound GETs (spec §4.4).
func CacheHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", "webmirror/1.0 (+https://github.com/webmirror/webmirror)")
	h.Set("Accept", "*/*")
	return h
}

