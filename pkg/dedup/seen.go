// Package dedup remembers recently seen record ids so the ingest role can drop
// duplicates. Keys are spread over mutex-guarded shards and forgotten after a
// TTL by a background expirer.
package dedup

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures a Set.
type Options struct {
	Shards int           // number of shards (default 64)
	TTL    time.Duration // how long a key is remembered (0 = forever)
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 64
	}
	if o.TTL < 0 {
		o.TTL = 0
	}
	return o
}

// Set is a concurrent seen-set with per-key expiry.
type Set struct {
	opts    Options
	shards  []shard
	expq    *expQueue
	closeCh chan struct{}
	closed  sync.Once
	wg      sync.WaitGroup

	nowFn func() time.Time

	mKeys    atomic.Uint64
	mChecks  atomic.Uint64
	mHits    atomic.Uint64
	mExpired atomic.Uint64
}

type shard struct {
	mu sync.Mutex
	m  map[string]int64 // key -> expireAt unix nano; 0 = never
}

// New starts a Set. Call Close to stop its expirer.
func New(opts Options) *Set {
	opts = opts.withDefaults()
	s := &Set{
		opts:    opts,
		shards:  make([]shard, opts.Shards),
		expq:    &expQueue{},
		closeCh: make(chan struct{}),
		nowFn:   time.Now,
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]int64)
	}
	s.expq.cond = sync.NewCond(&s.expq.mu)
	heap.Init(s.expq)
	s.wg.Add(1)
	go s.expirer()
	return s
}

// Close stops the expirer. The Set stays usable but keys no longer expire
// eagerly; lookups still honor the TTL.
func (s *Set) Close() {
	s.closed.Do(func() {
		close(s.closeCh)
		s.expq.mu.Lock()
		s.expq.cond.Broadcast()
		s.expq.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *Set) shardFor(key string) *shard {
	// FNV-1a 64
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[int(h%uint64(len(s.shards)))]
}

// Seen reports whether key was recorded and has not expired. An unseen key is
// recorded in the same step, so concurrent callers agree on a single first
// sighting.
func (s *Set) Seen(key string) bool {
	s.mChecks.Add(1)
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.Lock()
	exp, ok := sh.m[key]
	if ok && (exp == 0 || exp > now) {
		sh.mu.Unlock()
		s.mHits.Add(1)
		return true
	}
	if ok {
		s.mExpired.Add(1)
	} else {
		s.mKeys.Add(1)
	}
	expAt := int64(0)
	if s.opts.TTL > 0 {
		expAt = now + int64(s.opts.TTL)
	}
	sh.m[key] = expAt
	sh.mu.Unlock()

	if expAt != 0 {
		s.enqueueExpire(key, expAt)
	}
	return false
}

// Forget drops key. It reports whether key was present.
func (s *Set) Forget(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	_, ok := sh.m[key]
	if ok {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
	if ok {
		s.mKeys.Add(^uint64(0))
	}
	return ok
}

// Len returns the number of remembered keys, including expired ones the
// expirer has not reached yet.
func (s *Set) Len() int { return int(s.mKeys.Load()) }

// Stats is a snapshot of Set counters.
type Stats struct {
	Keys    uint64
	Checks  uint64
	Hits    uint64
	Expired uint64
}

func (s *Set) Metrics() Stats {
	return Stats{
		Keys:    s.mKeys.Load(),
		Checks:  s.mChecks.Load(),
		Hits:    s.mHits.Load(),
		Expired: s.mExpired.Load(),
	}
}

type expItem struct {
	when int64
	key  string
}

type expQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []expItem
}

func (q *expQueue) Len() int           { return len(q.items) }
func (q *expQueue) Less(i, j int) bool { return q.items[i].when < q.items[j].when }
func (q *expQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *expQueue) Push(x any)         { q.items = append(q.items, x.(expItem)) }
func (q *expQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	q.items = old[:n-1]
	return it
}

func (s *Set) enqueueExpire(key string, when int64) {
	s.expq.mu.Lock()
	heap.Push(s.expq, expItem{when: when, key: key})
	s.expq.cond.Broadcast()
	s.expq.mu.Unlock()
}

func (s *Set) expirer() {
	defer s.wg.Done()
	for {
		s.expq.mu.Lock()
		for s.expq.Len() == 0 {
			if s.isClosed() {
				s.expq.mu.Unlock()
				return
			}
			s.expq.cond.Wait()
		}
		if s.isClosed() {
			s.expq.mu.Unlock()
			return
		}
		it := s.expq.items[0]
		now := s.nowFn().UnixNano()
		if it.when > now {
			s.expq.mu.Unlock()
			timer := time.NewTimer(time.Duration(it.when - now))
			select {
			case <-timer.C:
			case <-s.closeCh:
				timer.Stop()
				return
			}
			continue
		}
		heap.Pop(s.expq)
		s.expq.mu.Unlock()

		// the key may have been refreshed since this item was queued
		sh := s.shardFor(it.key)
		sh.mu.Lock()
		if exp, ok := sh.m[it.key]; ok && exp != 0 && exp <= s.nowFn().UnixNano() {
			delete(sh.m, it.key)
			s.mExpired.Add(1)
			s.mKeys.Add(^uint64(0))
		}
		sh.mu.Unlock()
	}
}

func (s *Set) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}
