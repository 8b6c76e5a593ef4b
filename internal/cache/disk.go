package cache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// compressThreshold is the payload size above which disk entries are gzipped.
const compressThreshold = 10 << 10

// cleanupBatchSize bounds how many files one cleanup pass inspects at a time.
const cleanupBatchSize = 100

// diskEntry is the on-disk payload: expiry in unix milliseconds plus the raw value.
type diskEntry struct {
	Expiry int64           `json:"expiry"`
	Value  json.RawMessage `json:"value"`
}

// diskTier persists entries as one file per key under dir. Filenames are the
// md5 of the key with a .json or .json.gz suffix; writes go through a temp
// file and rename so readers never observe a partial entry.
type diskTier struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	hits   int64
	misses int64
}

func newDiskTier(dir string, logger *zap.Logger) (*diskTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &diskTier{dir: dir, logger: logger, now: time.Now}, nil
}

func keyFilename(key string) string {
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (d *diskTier) paths(key string) (plain, compressed string) {
	base := filepath.Join(d.dir, keyFilename(key))
	return base + ".json", base + ".json.gz"
}

func (d *diskTier) get(key string) ([]byte, time.Time, bool) {
	plain, compressed := d.paths(key)

	raw, err := os.ReadFile(plain)
	gzipped := false
	if err != nil {
		raw, err = os.ReadFile(compressed)
		gzipped = true
	}
	if err != nil {
		d.count(&d.misses)
		return nil, time.Time{}, false
	}

	if gzipped {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			d.remove(key)
			d.count(&d.misses)
			return nil, time.Time{}, false
		}
		raw, err = io.ReadAll(gz)
		_ = gz.Close()
		if err != nil {
			d.remove(key)
			d.count(&d.misses)
			return nil, time.Time{}, false
		}
	}

	var entry diskEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		d.remove(key)
		d.count(&d.misses)
		return nil, time.Time{}, false
	}

	expiry := time.UnixMilli(entry.Expiry)
	if d.now().After(expiry) {
		d.remove(key)
		d.count(&d.misses)
		return nil, time.Time{}, false
	}

	d.count(&d.hits)
	return entry.Value, expiry, true
}

func (d *diskTier) set(key string, value []byte, expiry time.Time) error {
	payload, err := json.Marshal(diskEntry{Expiry: expiry.UnixMilli(), Value: value})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	plain, compressed := d.paths(key)
	target := plain
	if len(value) > compressThreshold {
		target = compressed
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return fmt.Errorf("compress cache entry: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("compress cache entry: %w", err)
		}
		payload = buf.Bytes()
	}

	tmp, err := os.CreateTemp(d.dir, "write-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename cache entry: %w", err)
	}

	// Drop the stale twin so the key never resolves through both suffixes.
	if target == plain {
		_ = os.Remove(compressed)
	} else {
		_ = os.Remove(plain)
	}
	return nil
}

func (d *diskTier) remove(key string) {
	plain, compressed := d.paths(key)
	_ = os.Remove(plain)
	_ = os.Remove(compressed)
}

func (d *diskTier) clear() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") || strings.HasSuffix(e.Name(), ".json.gz") {
			_ = os.Remove(filepath.Join(d.dir, e.Name()))
		}
	}
	return nil
}

// cleanup walks the cache directory in batches, deleting expired or corrupted
// entries. Returns how many files were removed.
func (d *diskTier) cleanup() int {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.logger.Warn("disk cache cleanup: read dir", zap.Error(err))
		return 0
	}

	removed := 0
	for start := 0; start < len(entries); start += cleanupBatchSize {
		end := start + cleanupBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		for _, e := range entries[start:end] {
			name := e.Name()
			if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".json.gz") {
				continue
			}
			path := filepath.Join(d.dir, name)
			if d.shouldRemove(path, strings.HasSuffix(name, ".gz")) {
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
		}
	}
	if removed > 0 {
		d.logger.Info("disk cache cleanup", zap.Int("removed", removed))
	}
	return removed
}

func (d *diskTier) shouldRemove(path string, gzipped bool) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if gzipped {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return true
		}
		raw, err = io.ReadAll(gz)
		_ = gz.Close()
		if err != nil {
			return true
		}
	}
	var entry diskEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return true
	}
	return d.now().After(time.UnixMilli(entry.Expiry))
}

func (d *diskTier) count(field *int64) {
	d.mu.Lock()
	*field++
	d.mu.Unlock()
}

func (d *diskTier) stats() TierStats {
	d.mu.Lock()
	hits, misses := d.hits, d.misses
	d.mu.Unlock()

	items := 0
	if entries, err := os.ReadDir(d.dir); err == nil {
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".json") || strings.HasSuffix(e.Name(), ".json.gz") {
				items++
			}
		}
	}
	return TierStats{Items: items, Hits: hits, Misses: misses, Healthy: true}
}
