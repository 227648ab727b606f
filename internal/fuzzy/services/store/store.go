// Package store implements the fuzzy hash storage service: command
// dispatch over the bucketed index, the modification counter, and the
// periodic snapshot cycle with TTL eviction.
package store

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/fuzzystore/internal/fuzzy/common/clock"
	"github.com/haukened/fuzzystore/internal/fuzzy/common/log"
	"github.com/haukened/fuzzystore/internal/fuzzy/domain"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/checkcache"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/index"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/meta"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/snapshot"
)

// Store serializes all index access and owns the snapshot cycle. It is
// the CommandHandler the transport dispatches into.
type Store struct {
	mu    sync.Mutex
	index *index.Index
	mods  uint32

	cache    checkcache.Cache
	snapshot *snapshot.Store // nil when no hash file is configured
	meta     meta.Store
	clock    clock.Clock
	logger   log.Logger

	expire       uint64
	modLimit     uint32
	syncInterval time.Duration

	// counters for the admin surface
	checks   uint64
	writes   uint64
	deletes  uint64
	matches  uint64
	syncs    uint64
	lastSync atomic.Int64
}

// Options configures a Store.
type Options struct {
	Index        *index.Index
	Cache        checkcache.Cache
	Snapshot     *snapshot.Store
	Meta         meta.Store
	Clock        clock.Clock
	Logger       log.Logger
	Expire       uint64
	ModLimit     uint32
	SyncInterval time.Duration
}

// New creates a Store from options.
func New(opts Options) *Store {
	return &Store{
		index:        opts.Index,
		cache:        opts.Cache,
		snapshot:     opts.Snapshot,
		meta:         opts.Meta,
		clock:        opts.Clock,
		logger:       opts.Logger,
		expire:       opts.Expire,
		modLimit:     opts.ModLimit,
		syncInterval: opts.SyncInterval,
	}
}

// Load reads the snapshot file into the index. A missing or unreadable
// file leaves the store empty; records loaded before a read error are
// retained. Returns the number of records loaded.
func (s *Store) Load() int {
	if s.snapshot == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.snapshot.Load(s.index.Load)
	if err != nil {
		s.logger.Warn(map[string]any{
			"file":   s.snapshot.Path(),
			"loaded": n,
			"error":  err.Error(),
		}, "cannot read hash file, it will be created after the next sync")
		return n
	}
	s.logger.Info(map[string]any{
		"file":    s.snapshot.Path(),
		"records": n,
	}, "hash file loaded")
	return n
}

// HandleCommand dispatches one decoded command and returns its verdict.
func (s *Store) HandleCommand(_ context.Context, cmd domain.Command) bool {
	switch cmd.Type {
	case domain.CmdCheck:
		return s.Check(cmd.Hash)
	case domain.CmdWrite:
		return s.Write(cmd.Hash)
	case domain.CmdDelete:
		return s.Delete(cmd.Hash)
	default:
		return false
	}
}

// Check reports whether a hash close enough to h is stored. The cache
// lookup and fill stay inside the same critical section as the bucket
// scan: a verdict computed before a concurrent mutation must never be
// written back after that mutation's purge.
func (s *Store) Check(h domain.FuzzyHash) bool {
	atomic.AddUint64(&s.checks, 1)

	s.mu.Lock()
	if found, ok := s.cache.Get(h); ok {
		s.mu.Unlock()
		return found
	}
	prob, found := s.index.Check(h)
	s.cache.Put(h, found)
	s.mu.Unlock()

	if found {
		atomic.AddUint64(&s.matches, 1)
		s.logger.Info(map[string]any{
			"block_size":  h.BlockSize,
			"probability": prob,
		}, "fuzzy hash found")
	} else {
		s.logger.Debug(map[string]any{
			"block_size": h.BlockSize,
		}, "fuzzy hash not found")
	}
	return found
}

// Write stores h unless the membership filter already claims it.
func (s *Store) Write(h domain.FuzzyHash) bool {
	atomic.AddUint64(&s.writes, 1)

	s.mu.Lock()
	ok := s.index.Write(h, s.clock.Unix())
	if ok {
		s.mods++
		s.cache.Purge()
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info(map[string]any{
			"block_size": h.BlockSize,
		}, "fuzzy hash added")
	}
	return ok
}

// Delete removes every stored record matching h.
func (s *Store) Delete(h domain.FuzzyHash) bool {
	atomic.AddUint64(&s.deletes, 1)

	s.mu.Lock()
	removed := s.index.Delete(h)
	if removed > 0 {
		s.mods++
		s.cache.Purge()
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info(map[string]any{
			"block_size": h.BlockSize,
			"removed":    removed,
		}, "fuzzy hash deleted")
		return true
	}
	return false
}

// MaybeSync rewrites the snapshot when enough mutations accumulated.
func (s *Store) MaybeSync() {
	s.mu.Lock()
	due := s.mods >= s.modLimit
	s.mu.Unlock()
	if due {
		s.Sync()
	}
}

// ForceSync rewrites the snapshot regardless of the modification count.
// Used on shutdown so nothing since the last cycle is lost.
func (s *Store) ForceSync() {
	s.Sync()
}

// Sync walks the index, evicts records older than the TTL, and rewrites
// the snapshot file with the survivors. On I/O failure the modification
// counter is left untouched so the next cycle retries, and the surviving
// records stay in memory; expired records already swept out before the
// failure are not restored.
func (s *Store) Sync() {
	if s.snapshot == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info(map[string]any{
		"file": s.snapshot.Path(),
		"mods": s.mods,
	}, "syncing fuzzy hash storage")

	now := s.clock.Unix()
	var kept, evicted int
	err := s.snapshot.Rewrite(func(emit func(domain.Record) error) error {
		var sweepErr error
		kept, evicted, sweepErr = s.index.Sweep(now, s.expire, emit)
		return sweepErr
	})
	if err != nil {
		s.logger.Error(map[string]any{
			"file":  s.snapshot.Path(),
			"error": err.Error(),
		}, "cannot sync hash storage")
		return
	}

	s.mods = 0
	atomic.AddUint64(&s.syncs, 1)
	s.lastSync.Store(int64(now))
	if evicted > 0 {
		s.cache.Purge()
	}

	if err := s.meta.RecordSync(uint64(kept), int64(now)); err != nil {
		s.logger.Warn(map[string]any{
			"error": err.Error(),
		}, "cannot record sync state")
	}

	s.logger.Info(map[string]any{
		"file":    s.snapshot.Path(),
		"records": kept,
		"expired": evicted,
	}, "hash storage synced")
}

// RunSyncLoop fires MaybeSync on the jittered sync timer until ctx is
// cancelled. The period is the base interval plus up to one interval of
// random jitter, so peer workers do not sync in lockstep.
func (s *Store) RunSyncLoop(ctx context.Context) error {
	timer := time.NewTimer(s.jitteredInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.MaybeSync()
			timer.Reset(s.jitteredInterval())
		}
	}
}

func (s *Store) jitteredInterval() time.Duration {
	return s.syncInterval + time.Duration(rand.Float64()*float64(s.syncInterval))
}

// Stats is a point-in-time snapshot of the store's counters.
type Stats struct {
	Records      int    `json:"records"`
	Mods         uint32 `json:"mods"`
	Checks       uint64 `json:"checks"`
	Writes       uint64 `json:"writes"`
	Deletes      uint64 `json:"deletes"`
	Matches      uint64 `json:"matches"`
	Syncs        uint64 `json:"syncs"`
	LastSyncUnix int64  `json:"last_sync_unix"`
	CacheHits    uint64 `json:"cache_hits"`
	CacheMisses  uint64 `json:"cache_misses"`
}

// Stats returns current counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	records := s.index.Len()
	mods := s.mods
	s.mu.Unlock()

	hits, misses, _ := s.cache.Stats()
	return Stats{
		Records:      records,
		Mods:         mods,
		Checks:       atomic.LoadUint64(&s.checks),
		Writes:       atomic.LoadUint64(&s.writes),
		Deletes:      atomic.LoadUint64(&s.deletes),
		Matches:      atomic.LoadUint64(&s.matches),
		Syncs:        atomic.LoadUint64(&s.syncs),
		LastSyncUnix: s.lastSync.Load(),
		CacheHits:    hits,
		CacheMisses:  misses,
	}
}
