/**
 * @description
 * Cron scheduler setup for the two background sweeps: expiring stale
 * collaboration requests and auto-releasing escrow on content the buyer never
 * acted on. Jobs run inside cron.Recover so a panicking sweep cannot take the
 * process down, and every sweep is safe to run concurrently across replicas
 * because the underlying updates are conditional.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// SweeperConfig carries the cron schedules and the auto-release window.
type SweeperConfig struct {
	ExpirySchedule        string
	AutoReleaseSchedule   string
	EscrowAutoReleaseDays int
	AutoReleaseBatchSize  int
}

// Sweeps contains the logic for all scheduled tasks.
type Sweeps struct {
	stateMachine *RequestStateMachine
	ledger       *EscrowLedger
	cfg          SweeperConfig
}

// NewSweeps creates a new sweep runner.
func NewSweeps(stateMachine *RequestStateMachine, ledger *EscrowLedger, cfg SweeperConfig) *Sweeps {
	return &Sweeps{stateMachine: stateMachine, ledger: ledger, cfg: cfg}
}

// ExpireStaleRequests flips pre-acceptance requests past their expiry to expired.
func (s *Sweeps) ExpireStaleRequests() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.stateMachine.ExpireStale(ctx)
	if err != nil {
		log.Printf("level=error component=sweeper job=request_expiry msg=\"sweep failed\" err=%v", err)
		return
	}
	if count > 0 {
		log.Printf("level=info component=sweeper job=request_expiry msg=\"requests expired\" count=%d", count)
	}
}

// AutoReleaseEscrow releases escrowed payments whose submitted content has sat
// without buyer action for the configured number of days.
func (s *Sweeps) AutoReleaseEscrow() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.EscrowAutoReleaseDays)
	payments, err := s.ledger.repo.ListAutoReleasablePayments(ctx, cutoff, s.cfg.AutoReleaseBatchSize)
	if err != nil {
		log.Printf("level=error component=sweeper job=escrow_auto_release msg=\"listing failed\" err=%v", err)
		return
	}

	released := 0
	for _, payment := range payments {
		release, err := s.ledger.Release(ctx, payment.RequestID)
		if err != nil {
			log.Printf("level=error component=sweeper job=escrow_auto_release msg=\"release failed\" request_id=%s reference=%s err=%v", payment.RequestID, payment.GatewayReference, err)
			continue
		}
		if release.Applied {
			released++
		}
	}
	if released > 0 {
		log.Printf("level=info component=sweeper job=escrow_auto_release msg=\"escrow auto-released\" count=%d", released)
	}
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	sweeps *Sweeps
	cfg    SweeperConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(sweeps *Sweeps, cfg SweeperConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	return &Scheduler{cron: c, sweeps: sweeps, cfg: cfg}
}

// Start registers the sweeps and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ExpirySchedule, s.sweeps.ExpireStaleRequests); err != nil {
		return fmt.Errorf("failed to schedule request expiry sweep: %w", err)
	}
	log.Printf("level=info component=scheduler msg=\"scheduled request expiry sweep\" schedule=%q", s.cfg.ExpirySchedule)

	if _, err := s.cron.AddFunc(s.cfg.AutoReleaseSchedule, s.sweeps.AutoReleaseEscrow); err != nil {
		return fmt.Errorf("failed to schedule escrow auto-release sweep: %w", err)
	}
	log.Printf("level=info component=scheduler msg=\"scheduled escrow auto-release sweep\" schedule=%q", s.cfg.AutoReleaseSchedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
