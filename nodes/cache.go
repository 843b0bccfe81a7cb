package nodes

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/ipnet-mesh/meshweb/common"
)

// cacheEntry one generation of the in-memory cache. Entries are replaced
// wholesale and never mutated, so a reader holding an old generation always
// sees a consistent snapshot.
type cacheEntry struct {
	items     []NodeRecord
	fetchedAt time.Time
	expiresAt time.Time
}

// valid an entry serves reads only while non-empty and unexpired
func (e *cacheEntry) valid(now time.Time) bool {
	return e != nil && len(e.items) > 0 && now.Before(e.expiresAt)
}

// NodeCache read-through cache over the node inventory.
//
// Read priority: in-memory entry within TTL, then a live upstream fetch,
// then the disk snapshot. A read never returns an error, only a possibly
// empty collection.
type NodeCache interface {
	// GetNodes return the freshest available inventory
	GetNodes(ctxt context.Context) []NodeRecord
}

// tieredNodeCacheImpl implements NodeCache
type tieredNodeCacheImpl struct {
	common.Component
	source      NodeSource
	snapshots   SnapshotStore
	normalTTL   time.Duration
	degradedTTL time.Duration
	entry       *cacheEntry
	lock        *sync.RWMutex
	// seam for unit testing TTL expiry
	timeNow func() time.Time
}

// GetTieredNodeCache define a new tiered node cache
func GetTieredNodeCache(
	source NodeSource, snapshots SnapshotStore, config common.NodeCacheConfig,
) (NodeCache, error) {
	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module":    "nodes",
		"component": "tiered-cache",
	}
	return &tieredNodeCacheImpl{
		Component:   common.Component{LogTags: logTags},
		source:      source,
		snapshots:   snapshots,
		normalTTL:   time.Second * time.Duration(config.TTL),
		degradedTTL: time.Second * time.Duration(config.DegradedTTL),
		entry:       nil,
		lock:        &sync.RWMutex{},
		timeNow:     time.Now,
	}, nil
}

// currentEntry grab the current cache generation
func (c *tieredNodeCacheImpl) currentEntry() *cacheEntry {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.entry
}

// installEntry replace the cache generation wholesale
func (c *tieredNodeCacheImpl) installEntry(entry *cacheEntry) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.entry = entry
}

// GetNodes return the freshest available inventory
func (c *tieredNodeCacheImpl) GetNodes(ctxt context.Context) []NodeRecord {
	now := c.timeNow().UTC()

	if entry := c.currentEntry(); entry.valid(now) {
		log.WithFields(c.LogTags).Debug("Serving from memory cache")
		return entry.items
	}

	records, err := c.source.FetchNodes(ctxt)
	if err == nil {
		c.installEntry(&cacheEntry{
			items:     records,
			fetchedAt: now,
			expiresAt: now.Add(c.normalTTL),
		})
		// An empty fetch is still a successful fetch, but it must not
		// clobber the last good snapshot.
		if len(records) > 0 {
			if saveErr := c.snapshots.Save(records); saveErr != nil {
				log.WithError(saveErr).WithFields(c.LogTags).Warn(
					"Snapshot persist failed, continuing with fetched records",
				)
			}
		}
		return records
	}

	// Upstream failed, fall back to the disk snapshot with a shortened TTL
	// so live fetches are retried again soon
	restored, loadErr := c.snapshots.Load()
	if loadErr == nil && len(restored) > 0 {
		log.WithFields(c.LogTags).Info("Serving disk snapshot due to upstream failure")
		c.installEntry(&cacheEntry{
			items:     restored,
			fetchedAt: now,
			expiresAt: now.Add(c.degradedTTL),
		})
		return restored
	}

	log.WithFields(c.LogTags).Error("No nodes available from upstream or snapshot")
	return []NodeRecord{}
}
