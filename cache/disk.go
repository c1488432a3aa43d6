package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/s2"
)

// Default L2 disk cache limits (spec.md §4.7).
const (
	DefaultTotalLimitBytes = 50 * 1024 * 1024
	DefaultEntryLimitBytes = 5 * 1024 * 1024
)

// storedEntry is the JSON envelope persisted per blob. LZFSE is the spec's
// named reference codec; no maintained Go binding exists in this module's
// ecosystem, so s2 is substituted as a block codec that, like LZFSE,
// supports decompression without the caller supplying the original size
// (see SPEC_FULL.md §3).
type storedEntry struct {
	Status       int                 `json:"status"`
	Header       map[string][]string `json:"header"`
	Body         []byte              `json:"body"`
	ETag         string              `json:"etag"`
	LastModified string              `json:"last_modified"`
	StoredAt     time.Time           `json:"stored_at"`
	ExpiresAt    time.Time           `json:"expires_at"`
}

// compressionThreshold is the 1 KiB cutoff spec.md §4.6 names: a response
// body at or under this size is stored raw, since s2's frame overhead
// outweighs any savings on small payloads.
const compressionThreshold = 1024

// blob file format: one flag byte (blobRaw or blobCompressed) followed by
// the (possibly s2-encoded) JSON envelope.
const (
	blobRaw        byte = 0
	blobCompressed byte = 1
)

// Disk is the L2 cache tier: compressed blobs on disk plus a coalesced
// index for LRU accounting (spec.md §4.7). No teacher analogue exists
// (the Encore app's "remote" tier is a network cache, not a filesystem
// one); the single-serialized-access shape is modeled on
// cache-manager/service.go's Service, and the atomic-write discipline is
// the general Go idiom for crash-safe local caches.
type Disk struct {
	dir             string
	index           *diskIndex
	totalLimit      int64
	entryLimit      int64
}

// NewDisk opens (creating if necessary) a disk cache rooted at dir, laid
// out per spec.md §6: blobs under dir/entries, the coalesced index at
// dir/index.json (+ .bak), and a plain-text version marker at dir/version.
func NewDisk(dir string, totalLimit, entryLimit int64) (*Disk, error) {
	if err := os.MkdirAll(entriesDir(dir), 0o755); err != nil {
		return nil, err
	}
	if err := writeVersionIfAbsent(dir); err != nil {
		return nil, err
	}
	idx, err := newDiskIndex(dir)
	if err != nil {
		return nil, err
	}
	if totalLimit <= 0 {
		totalLimit = DefaultTotalLimitBytes
	}
	if entryLimit <= 0 {
		entryLimit = DefaultEntryLimitBytes
	}
	return &Disk{dir: dir, index: idx, totalLimit: totalLimit, entryLimit: entryLimit}, nil
}

const diskLayoutVersion = "1\n"

func entriesDir(dir string) string { return filepath.Join(dir, "entries") }

func versionPath(dir string) string { return filepath.Join(dir, "version") }

func writeVersionIfAbsent(dir string) error {
	if _, err := os.Stat(versionPath(dir)); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(versionPath(dir), []byte(diskLayoutVersion), 0o644)
}

// Close stops the background index flusher, flushing once more first.
func (d *Disk) Close() {
	d.index.close()
}

func (d *Disk) blobPath(filename string) string {
	return filepath.Join(entriesDir(d.dir), filename)
}

// keyFilename is the sha-256 hex digest of key; dataFilename appends the
// ".data" extension spec.md §6's disk layout names.
func keyFilename(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func dataFilename(key string) string {
	return keyFilename(key) + ".data"
}

// Get reads and decompresses the entry stored for key, if present.
func (d *Disk) Get(key string) (Entry, bool) {
	rec, ok := d.index.get(key)
	if !ok {
		return Entry{}, false
	}

	blob, err := os.ReadFile(d.blobPath(rec.Filename))
	if err != nil || len(blob) == 0 {
		d.index.remove(key)
		return Entry{}, false
	}

	flag, payload := blob[0], blob[1:]
	var raw []byte
	switch flag {
	case blobCompressed:
		raw, err = s2.Decode(nil, payload)
		if err != nil {
			d.index.remove(key)
			return Entry{}, false
		}
	default:
		raw = payload
	}

	var stored storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		d.index.remove(key)
		return Entry{}, false
	}

	now := time.Now()
	d.index.touch(key, now)

	return Entry{
		Status:       stored.Status,
		Header:       stored.Header,
		Body:         stored.Body,
		ETag:         stored.ETag,
		LastModified: stored.LastModified,
		StoredAt:     stored.StoredAt,
		ExpiresAt:    stored.ExpiresAt,
		LastAccess:   now,
	}, true
}

// Set stores entry under key, evicting older entries by last-accessed-at
// if the write would exceed the total size budget. The per-entry limit and
// the total budget are both enforced against the raw, uncompressed body
// length (spec.md §4.5's CacheEntry invariant "body_bytes.len ≤
// per_entry_limit" and §6's "Σ size ≤ total_limit"), not the size of the
// JSON envelope or compressed blob actually written to disk — so a
// 100-byte body is accounted as 100 bytes regardless of header/timestamp
// overhead. An entry larger than the per-entry limit is rejected rather
// than stored (spec.md §4.7's "oversized responses are not cached" rule).
func (d *Disk) Set(key string, entry Entry) error {
	bodySize := int64(len(entry.Body))
	if bodySize > d.entryLimit {
		return fmt.Errorf("cache: entry for %q (%d bytes) exceeds per-entry limit %d", key, bodySize, d.entryLimit)
	}

	stored := storedEntry{
		Status:       entry.Status,
		Header:       entry.Header,
		Body:         entry.Body,
		ETag:         entry.ETag,
		LastModified: entry.LastModified,
		StoredAt:     entry.StoredAt,
		ExpiresAt:    entry.ExpiresAt,
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	flag := blobRaw
	payload := raw
	if bodySize > compressionThreshold {
		flag = blobCompressed
		payload = s2.Encode(nil, raw)
	}
	blob := make([]byte, 0, len(payload)+1)
	blob = append(blob, flag)
	blob = append(blob, payload...)

	d.evictToFit(bodySize)

	filename := dataFilename(key)
	if err := d.writeBlobAtomic(filename, blob); err != nil {
		return err
	}

	d.index.put(indexRecord{
		Key:            key,
		Filename:       filename,
		Size:           bodySize,
		StoredAt:       entry.StoredAt,
		ExpiresAt:      entry.ExpiresAt,
		ETag:           entry.ETag,
		LastModified:   entry.LastModified,
		LastAccessedAt: time.Now(),
	})
	return nil
}

func (d *Disk) writeBlobAtomic(filename string, data []byte) error {
	tmpPath := d.blobPath(filename) + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, d.blobPath(filename))
}

// evictToFit removes least-recently-accessed entries until there is room
// for an additional incoming byte count within the total budget.
func (d *Disk) evictToFit(incoming int64) {
	if d.index.totalSize()+incoming <= d.totalLimit {
		return
	}
	records := d.index.snapshot()
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastAccessedAt.Before(records[j].LastAccessedAt)
	})
	for _, r := range records {
		if d.index.totalSize()+incoming <= d.totalLimit {
			return
		}
		d.Delete(r.Key)
	}
}

// Delete removes key's blob and index record, if present.
func (d *Disk) Delete(key string) bool {
	rec, ok := d.index.get(key)
	if !ok {
		return false
	}
	os.Remove(d.blobPath(rec.Filename))
	d.index.remove(key)
	return true
}

// ReclaimOrphans removes blob files on disk with no corresponding index
// record, e.g. left behind by a crash between writeBlobAtomic and
// index.put (spec.md §4.7's recovery note).
func (d *Disk) ReclaimOrphans() (int, error) {
	entries, err := os.ReadDir(entriesDir(d.dir))
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool)
	for _, r := range d.index.snapshot() {
		known[r.Filename] = true
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".data" {
			continue
		}
		if !known[name] {
			if err := os.Remove(d.blobPath(name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
