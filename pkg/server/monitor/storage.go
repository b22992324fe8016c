package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

const usageCacheDuration = 10 * time.Second

// Usage is the storage section of the API.
type Usage struct {
	UsedBytes int64   `json:"used_bytes"`
	MaxBytes  int64   `json:"max_bytes"`
	Percent   float64 `json:"percent"`
}

// StorageMonitor reports disk usage of the data directory. Directory walks
// are cached for ten seconds.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a storage monitor for dataDir.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: usageCacheDuration,
	}
}

// GetUsage returns bytes used on disk.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := dirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Usage returns used and maximum bytes together.
func (sm *StorageMonitor) Usage() (Usage, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return Usage{}, err
	}
	u := Usage{UsedBytes: used, MaxBytes: sm.maxBytes}
	if sm.maxBytes > 0 {
		u.Percent = float64(used) / float64(sm.maxBytes) * 100
	}
	return u, nil
}

// dirSize sums allocated bytes (not logical size) so sparse badger
// value logs are counted correctly.
func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += allocatedSize(path, info)
		return nil
	})
	return size, err
}
