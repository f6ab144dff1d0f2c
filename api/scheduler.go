/*
scheduler.go - Automated billing scheduler

PURPOSE:
  Periodically runs the per-tenant maintenance work that keeps billing state
  current without anyone clicking a button:
  - overdue sweeps for charges and installments
  - materialization of recurring transactions for the current month
  - retroactive backfill for students that missed charge generation

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Iterates every tenant; a failure on one tenant never blocks the rest
  - Every operation is idempotent, so overlapping or repeated runs are safe

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewBillingScheduler(store, membershipEngine, financeEngine, clock)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: the admin endpoints triggering the same work manually
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
)

// TenantLister is the slice of the store the scheduler needs.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]billing.Tenant, error)
}

// BillingScheduler runs the periodic billing maintenance.
type BillingScheduler struct {
	Tenants       TenantLister
	Membership    *membership.Engine
	Finance       *finance.Engine
	Clock         billing.Clock
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBillingScheduler creates a new scheduler.
func NewBillingScheduler(tenants TenantLister, m *membership.Engine, f *finance.Engine, clock billing.Clock) *BillingScheduler {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	return &BillingScheduler{
		Tenants:       tenants,
		Membership:    m,
		Finance:       f,
		Clock:         clock,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (bs *BillingScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.wg.Add(1)

	go bs.run()

	log.Printf("[Scheduler] Started with check interval: %v", bs.CheckInterval)
}

// Stop stops the scheduler.
func (bs *BillingScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (bs *BillingScheduler) run() {
	defer bs.wg.Done()

	// Run immediately on start
	bs.processAll()

	for {
		select {
		case <-bs.ticker.C:
			bs.processAll()
		case <-bs.stop:
			return
		}
	}
}

func (bs *BillingScheduler) processAll() {
	ctx := context.Background()
	today := bs.Clock.Today()

	log.Printf("[Scheduler] Running billing maintenance for %s", today)

	tenants, err := bs.Tenants.ListTenants(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing tenants: %v", err)
		return
	}

	for _, tenant := range tenants {
		bs.processTenant(ctx, tenant.ID, today)
	}
}

func (bs *BillingScheduler) processTenant(ctx context.Context, tenantID billing.TenantID, today billing.Date) {
	charges, err := bs.Membership.MarkOverdueCharges(ctx, tenantID)
	if err != nil {
		log.Printf("[Scheduler] Charge sweep for %s: %v", tenantID, err)
	}

	installments, err := bs.Finance.MarkOverdueInstallments(ctx, tenantID)
	if err != nil {
		log.Printf("[Scheduler] Installment sweep for %s: %v", tenantID, err)
	}

	recurring, err := bs.Finance.GenerateRecurringBatch(ctx, tenantID, today.Month(), today.Year())
	if err != nil {
		log.Printf("[Scheduler] Recurring batch for %s: %v", tenantID, err)
	}

	backfilled, err := bs.Membership.ReprocessRetroactive(ctx, tenantID)
	if err != nil {
		log.Printf("[Scheduler] Retroactive reprocess for %s: %v", tenantID, err)
	}

	if charges > 0 || installments > 0 || recurring > 0 || backfilled > 0 {
		log.Printf("[Scheduler] Tenant %s: %d charges overdue, %d installments overdue, %d recurring created, %d students backfilled",
			tenantID, charges, installments, recurring, backfilled)
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (bs *BillingScheduler) RunNow() {
	bs.processAll()
}
