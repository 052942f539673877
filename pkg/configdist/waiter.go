package configdist

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// clusterWaitGroup coordinates long-poll waiters for a single cluster's
// version changes using a condition variable local to this process.
type clusterWaitGroup struct {
	mu      sync.Mutex
	cond    *sync.Cond
	version string
}

func newClusterWaitGroup() *clusterWaitGroup {
	w := &clusterWaitGroup{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *clusterWaitGroup) set(version string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if version == w.version {
		return
	}
	w.version = version
	w.cond.Broadcast()
}

// waitForChange blocks until the version differs from lastSeen or ctx is
// done, returning the current version either way. A group that has not yet
// seen a version counts as being at lastSeen.
func (w *clusterWaitGroup) waitForChange(ctx context.Context, lastSeen string) string {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	w.mu.Lock()
	defer w.mu.Unlock()
	current := func() string {
		if w.version == "" {
			return lastSeen
		}
		return w.version
	}
	for current() == lastSeen && ctx.Err() == nil {
		w.cond.Wait()
	}
	return current()
}

// Notifier publishes version-change wakeups. Its per-cluster sync.Cond wait
// groups suffice for a single control-plane process; with a Redis client it
// also fans the wakeup out across a horizontally-scaled deployment via
// pub/sub, since a
// poller's long-poll connection may be held by a different process than the
// one that applied the mutation.
type Notifier struct {
	mu     sync.Mutex
	groups map[uuid.UUID]*clusterWaitGroup
	redis  *redis.Client
}

// NewNotifier creates a Notifier. A nil redis client disables cross-process
// fan-out; wakeups are then only observed within this process.
func NewNotifier(rdb *redis.Client) *Notifier {
	n := &Notifier{groups: make(map[uuid.UUID]*clusterWaitGroup), redis: rdb}
	if rdb != nil {
		go n.subscribeLoop()
	}
	return n
}

const redisChannelPrefix = "marchproxy:configdist:version:"

func channelFor(clusterID uuid.UUID) string {
	return redisChannelPrefix + clusterID.String()
}

func (n *Notifier) groupFor(clusterID uuid.UUID) *clusterWaitGroup {
	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok := n.groups[clusterID]
	if !ok {
		g = newClusterWaitGroup()
		n.groups[clusterID] = g
	}
	return g
}

// Publish records a new version for clusterID and wakes any local waiters
// immediately, and (if Redis is configured) publishes to other processes.
func (n *Notifier) Publish(ctx context.Context, clusterID uuid.UUID, version string) {
	n.groupFor(clusterID).set(version)
	if n.redis != nil {
		_ = n.redis.Publish(ctx, channelFor(clusterID), version).Err()
	}
}

// WaitForChange blocks until clusterID's version differs from lastSeen or
// ctx is canceled (by the caller's max_wait deadline), returning the
// observed version.
func (n *Notifier) WaitForChange(ctx context.Context, clusterID uuid.UUID, lastSeen string) string {
	return n.groupFor(clusterID).waitForChange(ctx, lastSeen)
}

// subscribeLoop relays Redis pub/sub wakeups from other processes into the
// local wait groups so a poller blocked in this process observes mutations
// applied elsewhere.
func (n *Notifier) subscribeLoop() {
	ctx := context.Background()
	pubsub := n.redis.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for msg := range ch {
		clusterID, err := uuid.Parse(msg.Channel[len(redisChannelPrefix):])
		if err != nil {
			continue
		}
		n.groupFor(clusterID).set(msg.Payload)
	}
}
