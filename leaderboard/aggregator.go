// Package leaderboard maintains a read-optimized ranked projection of
// profile coin totals. It is eventually consistent: the snapshot is
// recomputed on a fixed interval and on explicit refresh, never on
// every write.
package leaderboard

import (
	"context"
	"reflect"
	"sync"
	"time"

	"ecotrack/models"
	"ecotrack/websocket"

	"github.com/apex/log"
)

// Store is the read surface the aggregator polls.
type Store interface {
	TopProfiles(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
}

// Aggregator polls the ledger and serves a cached ranked snapshot.
type Aggregator struct {
	store    Store
	hub      *websocket.Hub
	interval time.Duration
	limit    int

	mu       sync.RWMutex
	snapshot models.LeaderboardResponse

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates an aggregator. hub may be nil when no push feed is wanted.
func New(store Store, hub *websocket.Hub, interval time.Duration, limit int) *Aggregator {
	return &Aggregator{
		store:    store,
		hub:      hub,
		interval: interval,
		limit:    limit,
		stopChan: make(chan struct{}),
	}
}

// Start primes the snapshot and launches the polling loop.
func (a *Aggregator) Start(ctx context.Context) error {
	if err := a.Refresh(ctx); err != nil {
		return err
	}
	a.wg.Add(1)
	go a.pollLoop()
	log.Infof("Leaderboard aggregator started, interval %s, size %d", a.interval, a.limit)
	return nil
}

// Stop stops the polling loop and waits for it to finish.
func (a *Aggregator) Stop() {
	close(a.stopChan)
	a.wg.Wait()
	log.Info("Leaderboard aggregator stopped")
}

func (a *Aggregator) pollLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.interval)
			if err := a.Refresh(ctx); err != nil {
				log.Errorf("Leaderboard refresh failed: %v", err)
			}
			cancel()
		case <-a.stopChan:
			return
		}
	}
}

// Refresh recomputes the snapshot immediately. A changed ranking is
// pushed to websocket subscribers.
func (a *Aggregator) Refresh(ctx context.Context) error {
	entries, err := a.store.TopProfiles(ctx, a.limit)
	if err != nil {
		return err
	}

	a.mu.Lock()
	changed := !reflect.DeepEqual(a.snapshot.Entries, entries)
	a.snapshot = models.LeaderboardResponse{
		Entries:     entries,
		RefreshedAt: time.Now(),
	}
	snapshot := a.snapshot
	a.mu.Unlock()

	if changed && a.hub != nil {
		a.hub.BroadcastLeaderboard(snapshot)
	}
	return nil
}

// Get returns up to limit entries of the cached snapshot. viewerID, if
// non-empty, marks the caller's own row.
func (a *Aggregator) Get(limit int, viewerID string) models.LeaderboardResponse {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries := a.snapshot.Entries
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	out := make([]models.LeaderboardEntry, len(entries))
	copy(out, entries)
	for i := range out {
		out[i].IsYou = out[i].ProfileID == viewerID
	}
	return models.LeaderboardResponse{
		Entries:     out,
		RefreshedAt: a.snapshot.RefreshedAt,
	}
}
