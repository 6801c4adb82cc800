// Package reward converts completed transitions into coin grants and
// level updates. Every write here is idempotent per report id, so the
// engine can be invoked again for the same transition without effect.
package reward

import (
	"context"

	"ecotrack/models"

	"github.com/apex/log"
	"github.com/shopspring/decimal"
)

// Coin amounts per category/kind.
const (
	CoinsDryWaste  = 15
	CoinsEWaste    = 20
	CoinsHazardous = 25
	CoinsReusable  = 15
	CoinsDirtyArea = 15
)

// Store is the slice of the ledger the engine needs.
type Store interface {
	ApplyRewardOnce(ctx context.Context, reportID string, coins int) (bool, error)
	GrantProfileReward(ctx context.Context, reportID, profileID string, coins int, mass decimal.Decimal) (bool, error)
	ListUnsettledRewards(ctx context.Context) ([]models.Report, error)
}

// Notifier receives fire-and-forget reward events. Failures are the
// notifier's problem; they never reach the caller.
type Notifier interface {
	RewardGranted(reportID, profileID string, coins int)
}

// Engine applies the reward policy.
type Engine struct {
	store    Store
	notifier Notifier
	retries  int
}

// NewEngine creates a reward engine. notifier may be nil.
func NewEngine(store Store, notifier Notifier, retries int) *Engine {
	if retries < 1 {
		retries = 1
	}
	return &Engine{store: store, notifier: notifier, retries: retries}
}

// CoinsFor returns the coin amount for a report's category/kind.
func CoinsFor(r *models.Report) int {
	if r.Kind == models.KindDirtyArea {
		return CoinsDirtyArea
	}
	switch r.Category {
	case models.CategoryEWaste:
		return CoinsEWaste
	case models.CategoryHazardous:
		return CoinsHazardous
	case models.CategoryReusable:
		return CoinsReusable
	default:
		return CoinsDryWaste
	}
}

// Grant fires the reward cascade for a report that just took its
// reward edge. The transition is already committed; nothing returned
// here may undo it, so errors are logged and retried but never
// propagated as a transition failure.
func (e *Engine) Grant(ctx context.Context, r *models.Report) {
	coins := CoinsFor(r)

	applied, err := e.store.ApplyRewardOnce(ctx, r.ID, coins)
	if err != nil {
		log.Errorf("Reward apply failed for report %s: %v", r.ID, err)
		return
	}
	if !applied {
		log.Infof("Reward already applied for report %s, profile update replay follows", r.ID)
	}

	// The profile side may have failed on an earlier attempt even if
	// coins_earned is already set, so it always runs. The report id is
	// the idempotency key: a replay inserts no grant and changes
	// nothing.
	var granted bool
	for attempt := 0; attempt < e.retries; attempt++ {
		granted, err = e.store.GrantProfileReward(ctx, r.ID, r.OwnerID, coins, r.MassKg)
		if err == nil {
			break
		}
		log.Errorf("Profile reward update failed for report %s (attempt %d): %v", r.ID, attempt+1, err)
	}
	if err != nil {
		// Left for the next replay of this transition; the grant
		// ledger guarantees it cannot double-apply.
		return
	}

	if granted {
		log.Infof("Granted %d coins to profile %s for report %s", coins, r.OwnerID, r.ID)
		if e.notifier != nil {
			e.notifier.RewardGranted(r.ID, r.OwnerID, coins)
		}
	}
}

// Sweep re-fires the grant cascade for reports whose coin apply
// committed but whose profile credit never settled, e.g. when the
// profile update exhausted its retries during an outage. The triggering
// transition cannot be replayed once the report is terminal, so this is
// the recovery path for the profile side. It returns how many reports
// were re-driven.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	reports, err := e.store.ListUnsettledRewards(ctx)
	if err != nil {
		return 0, err
	}
	for i := range reports {
		log.Infof("Re-driving unsettled reward for report %s", reports[i].ID)
		e.Grant(ctx, &reports[i])
	}
	return len(reports), nil
}
