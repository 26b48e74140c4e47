package failover

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Entity kinds held by the cache. The first three mirror the primary
// store's logical tables; transitions are reconciler instructions that could
// not be applied because the lookup itself failed. Each kind is its own key
// namespace, so a stashed transition never overwrites a stashed record.
const (
	KindEvent        = "event"
	KindSubscription = "subscription"
	KindProjection   = "projection"
	KindTransition   = "transition"
)

// Clock is injected so eviction and snapshot timing are testable without
// real timers.
type Clock func() time.Time

// Entry is one cached record. Payloads are kept as raw JSON so the cache
// stays agnostic of the entity types it shelters.
type Entry struct {
	Key      string          `json:"key"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"stored_at"`
}

// Snapshot is the on-disk representation of the cache contents.
type Snapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

// Options configures a Cache. Zero values fall back to defaults.
type Options struct {
	MaxEntries       int
	EventRetention   time.Duration
	SweepInterval    time.Duration
	SnapshotInterval time.Duration
	Clock            Clock
	Store            Snapshotter
}

const (
	defaultMaxEntries       = 10000
	defaultEventRetention   = 30 * 24 * time.Hour
	defaultSweepInterval    = 10 * time.Minute
	defaultSnapshotInterval = 1 * time.Minute
)

// Cache is the in-memory, disk-backed fallback store used when the primary
// datastore is unavailable. Writes land here instead of failing the
// detached processing; reconciliation back into the primary store happens
// out-of-band. It never sits on the acknowledgment path.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry

	maxEntries       int
	eventRetention   time.Duration
	sweepInterval    time.Duration
	snapshotInterval time.Duration
	clock            Clock
	store            Snapshotter

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	dirty   bool
}

// New creates a cache; call Start to load the last snapshot and begin the
// sweep/snapshot loops.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.EventRetention <= 0 {
		opts.EventRetention = defaultEventRetention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = defaultSnapshotInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Store == nil {
		opts.Store = NopSnapshotter{}
	}

	return &Cache{
		entries:          make(map[string]Entry),
		maxEntries:       opts.MaxEntries,
		eventRetention:   opts.EventRetention,
		sweepInterval:    opts.SweepInterval,
		snapshotInterval: opts.SnapshotInterval,
		clock:            opts.Clock,
		store:            opts.Store,
		stopCh:           make(chan struct{}),
	}
}

// Start loads the most recent snapshot and launches the background sweep and
// snapshot loops.
func (c *Cache) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})

	snap, err := c.store.Load()
	if err != nil {
		log.Warnf("[Failover] Could not load snapshot: %v", err)
	} else {
		for _, e := range snap.Entries {
			c.entries[entryKey(e.Kind, e.Key)] = e
		}
		if len(snap.Entries) > 0 {
			log.Infof("[Failover] Restored %d entries from snapshot (saved %s)", len(snap.Entries), snap.SavedAt.Format(time.RFC3339))
		}
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop()
}

// Stop halts the background loops and persists a final snapshot.
func (c *Cache) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	if err := c.persistSnapshot(); err != nil {
		log.Errorf("[Failover] Final snapshot failed: %v", err)
	}
}

func (c *Cache) loop() {
	defer c.wg.Done()

	sweep := time.NewTicker(c.sweepInterval)
	snapshot := time.NewTicker(c.snapshotInterval)
	defer sweep.Stop()
	defer snapshot.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-sweep.C:
			evicted := c.Sweep()
			if evicted > 0 {
				log.Infof("[Failover] Sweep evicted %d entries", evicted)
			}
		case <-snapshot.C:
			if err := c.persistIfDirty(); err != nil {
				log.Errorf("[Failover] Snapshot failed: %v", err)
			}
		}
	}
}

// Put stores a value under (kind, key), overwriting any previous entry.
// The write is memory-only; the snapshot loop persists it in the background.
// Disk I/O here would stall whatever is degrading into the cache, which is
// exactly the moment this store must stay fast.
func (c *Cache) Put(kind, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failover: marshal %s %s: %w", kind, key, err)
	}

	c.mu.Lock()
	c.entries[entryKey(kind, key)] = Entry{
		Key:      key,
		Kind:     kind,
		Payload:  payload,
		StoredAt: c.clock(),
	}
	c.dirty = true
	c.evictOverCapLocked()
	c.mu.Unlock()

	return nil
}

// Get loads the entry under (kind, key) into out. Returns false on miss.
func (c *Cache) Get(kind, key string, out any) bool {
	c.mu.Lock()
	entry, ok := c.entries[entryKey(kind, key)]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if err := json.Unmarshal(entry.Payload, out); err != nil {
		log.Errorf("[Failover] Corrupt cache entry %s/%s: %v", kind, key, err)
		return false
	}
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts webhook events older than the retention window and returns
// the number of evicted entries.
func (c *Cache) Sweep() int {
	cutoff := c.clock().Add(-c.eventRetention)

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for k, e := range c.entries {
		if e.Kind == KindEvent && e.StoredAt.Before(cutoff) {
			delete(c.entries, k)
			evicted++
		}
	}
	if evicted > 0 {
		c.dirty = true
	}
	return evicted
}

// evictOverCapLocked drops the oldest entries when the cache exceeds its
// bound. Caller holds the mutex.
func (c *Cache) evictOverCapLocked() {
	if len(c.entries) <= c.maxEntries {
		return
	}

	all := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StoredAt.Before(all[j].StoredAt) })

	for _, e := range all[:len(c.entries)-c.maxEntries] {
		delete(c.entries, entryKey(e.Kind, e.Key))
	}
}

func (c *Cache) persistSnapshot() error {
	c.mu.Lock()
	snap := Snapshot{SavedAt: c.clock(), Entries: make([]Entry, 0, len(c.entries))}
	for _, e := range c.entries {
		snap.Entries = append(snap.Entries, e)
	}
	c.dirty = false
	c.mu.Unlock()

	return c.store.Save(snap)
}

func (c *Cache) persistIfDirty() error {
	c.mu.Lock()
	dirty := c.dirty
	c.mu.Unlock()
	if !dirty {
		return nil
	}
	return c.persistSnapshot()
}

func entryKey(kind, key string) string {
	return kind + ":" + key
}
