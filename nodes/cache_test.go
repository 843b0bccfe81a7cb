package nodes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/ipnet-mesh/meshweb/common"
	"github.com/stretchr/testify/assert"
)

// scriptedNodeSource counting node source with a switchable failure mode
type scriptedNodeSource struct {
	records []NodeRecord
	err     error
	calls   int
}

func (s *scriptedNodeSource) FetchNodes(ctxt context.Context) ([]NodeRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

// memorySnapshotStore in-memory snapshot store with a switchable save failure
type memorySnapshotStore struct {
	stored    []NodeRecord
	saveErr   error
	saveCalls int
}

func (s *memorySnapshotStore) Save(records []NodeRecord) error {
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.stored = records
	return nil
}

func (s *memorySnapshotStore) Load() ([]NodeRecord, error) {
	if s.stored == nil {
		return []NodeRecord{}, nil
	}
	return s.stored, nil
}

func testCacheConfig() common.NodeCacheConfig {
	return common.NodeCacheConfig{
		TTL:          300,
		DegradedTTL:  60,
		SnapshotFile: "unused.json",
	}
}

func TestTieredNodeCacheFreshness(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	source := &scriptedNodeSource{
		records: []NodeRecord{{ID: "gw1", IsPublic: true}},
	}
	snapshots := &memorySnapshotStore{}
	uut, err := GetTieredNodeCache(source, snapshots, testCacheConfig())
	assert.Nil(err)
	impl := uut.(*tieredNodeCacheImpl)

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	impl.timeNow = func() time.Time { return now }

	ctxt := context.Background()

	// First read fetches and persists a snapshot
	records := uut.GetNodes(ctxt)
	assert.Len(records, 1)
	assert.Equal(1, source.calls)
	assert.Equal(1, snapshots.saveCalls)
	assert.Len(snapshots.stored, 1)

	// Within the TTL the memory entry serves reads
	now = now.Add(time.Minute)
	records = uut.GetNodes(ctxt)
	assert.Len(records, 1)
	assert.Equal(1, source.calls)

	// Past the TTL the next read fetches again
	now = now.Add(time.Minute * 5)
	records = uut.GetNodes(ctxt)
	assert.Len(records, 1)
	assert.Equal(2, source.calls)
}

func TestTieredNodeCacheSnapshotFallback(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	source := &scriptedNodeSource{err: fmt.Errorf("upstream down")}
	snapshots := &memorySnapshotStore{
		stored: []NodeRecord{{ID: "gw1"}, {ID: "relay3"}},
	}
	uut, err := GetTieredNodeCache(source, snapshots, testCacheConfig())
	assert.Nil(err)
	impl := uut.(*tieredNodeCacheImpl)

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	impl.timeNow = func() time.Time { return now }

	ctxt := context.Background()

	// Upstream failure falls back to the snapshot
	records := uut.GetNodes(ctxt)
	assert.Len(records, 2)
	assert.Equal(1, source.calls)

	// The restored entry serves reads on the degraded TTL
	now = now.Add(time.Second * 30)
	records = uut.GetNodes(ctxt)
	assert.Len(records, 2)
	assert.Equal(1, source.calls)

	// Past the degraded TTL, well within the normal one, upstream is retried
	now = now.Add(time.Second * 31)
	source.err = nil
	source.records = []NodeRecord{{ID: "gw1"}, {ID: "relay3"}, {ID: "fresh"}}
	records = uut.GetNodes(ctxt)
	assert.Len(records, 3)
	assert.Equal(2, source.calls)
}

func TestTieredNodeCacheTotalFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	source := &scriptedNodeSource{err: fmt.Errorf("upstream down")}
	snapshots := &memorySnapshotStore{}
	uut, err := GetTieredNodeCache(source, snapshots, testCacheConfig())
	assert.Nil(err)

	// No upstream and no snapshot still yields a usable empty inventory
	records := uut.GetNodes(context.Background())
	assert.NotNil(records)
	assert.Empty(records)
}

func TestTieredNodeCachePersistFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	source := &scriptedNodeSource{
		records: []NodeRecord{{ID: "gw1"}},
	}
	snapshots := &memorySnapshotStore{saveErr: fmt.Errorf("disk full")}
	uut, err := GetTieredNodeCache(source, snapshots, testCacheConfig())
	assert.Nil(err)

	// A failed snapshot persist does not fail the read
	records := uut.GetNodes(context.Background())
	assert.Len(records, 1)
	assert.Equal(1, snapshots.saveCalls)
}

func TestTieredNodeCacheEmptyFetch(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	source := &scriptedNodeSource{records: []NodeRecord{}}
	snapshots := &memorySnapshotStore{
		stored: []NodeRecord{{ID: "stale"}},
	}
	uut, err := GetTieredNodeCache(source, snapshots, testCacheConfig())
	assert.Nil(err)

	// An empty but successful fetch is served as-is and must not clobber the
	// last good snapshot
	records := uut.GetNodes(context.Background())
	assert.Empty(records)
	assert.Equal(0, snapshots.saveCalls)
	assert.Len(snapshots.stored, 1)
}
