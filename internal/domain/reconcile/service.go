// Package reconcile detects and removes duplicate rows left behind by racing or
// retried writers, keeping the most recently created row of each key.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/lock"
	"lotledger/internal/core/tx"
	"lotledger/pkg/logger"
)

// Row is the part of a duplicate row the service needs to pick a survivor.
type Row struct {
	ID        id.ID     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
}

// Store reads and removes rows by key.
type Store interface {
	// RowsByKey returns all rows sharing the key.
	RowsByKey(ctx context.Context, key Key) ([]Row, error)
	// DuplicateKeys returns every key of spec held by more than one row.
	DuplicateKeys(ctx context.Context, spec KeySpec) ([]Key, error)
	// DeleteRows removes rows by id and returns the number removed.
	DeleteRows(ctx context.Context, spec KeySpec, ids []id.ID) (int64, error)
}

// ResolveResult reports one key resolution.
type ResolveResult struct {
	Key        string `json:"key"`
	Eliminated int    `json:"eliminatedCount"`
	Kept       int    `json:"keptCount"`
}

// SweepResult reports a full sweep.
type SweepResult struct {
	TotalEliminated int             `json:"totalEliminated"`
	GroupsProcessed int             `json:"groupsProcessed"`
	Groups          []ResolveResult `json:"groups,omitempty"`
}

// Config tunes the service.
type Config struct {
	Specs []KeySpec
	// LockKey names the shared lease serializing runs across instances.
	LockKey string
	// LockTTL bounds a run that dies without releasing.
	LockTTL time.Duration
	// LockPoll is the retry interval while another instance holds the lease.
	LockPoll time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Specs:    DefaultSpecs(),
		LockKey:  "reconcile:run",
		LockTTL:  2 * time.Minute,
		LockPoll: 200 * time.Millisecond,
	}
}

// Service is the duplicate reconciliation service. Runs are serialized: within
// the process by a mutex, across processes by a lease. Concurrent callers wait
// for the in-flight run instead of starting another.
type Service struct {
	store  Store
	txm    tx.Manager
	locker lock.Locker
	cfg    Config

	mu sync.Mutex
}

// NewService creates the reconciliation service. A nil locker limits
// serialization to this process.
func NewService(store Store, txm tx.Manager, locker lock.Locker, cfg Config) *Service {
	def := DefaultConfig()
	if len(cfg.Specs) == 0 {
		cfg.Specs = def.Specs
	}
	if cfg.LockKey == "" {
		cfg.LockKey = def.LockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockPoll <= 0 {
		cfg.LockPoll = def.LockPoll
	}
	if txm == nil {
		txm = tx.Nop{}
	}
	return &Service{store: store, txm: txm, locker: locker, cfg: cfg}
}

// IsDuplicateKeyError implements the ledger's duplicate handler contract.
func (s *Service) IsDuplicateKeyError(err error) bool {
	return IsDuplicateKeyError(err)
}

// Specs returns the rules this service heals.
func (s *Service) Specs() []KeySpec {
	return s.cfg.Specs
}

// exclusive runs fn holding the process mutex and the shared lease.
func (s *Service) exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locker != nil {
		lease, err := lock.ObtainWait(ctx, s.locker, s.cfg.LockKey, s.cfg.LockTTL, s.cfg.LockPoll)
		if err != nil {
			return fmt.Errorf("obtain reconcile lease: %w", err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "reconcile lease release failed", "error", err)
			}
		}()
	}
	return fn(ctx)
}

// ResolveByKey keeps the most recently created row holding key and deletes the rest.
func (s *Service) ResolveByKey(ctx context.Context, key Key) (*ResolveResult, error) {
	var res *ResolveResult
	err := s.exclusive(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.resolve(ctx, key)
		return err
	})
	return res, err
}

// FullSweep resolves every key of every spec held by more than one row.
func (s *Service) FullSweep(ctx context.Context) (*SweepResult, error) {
	var res *SweepResult
	err := s.exclusive(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.sweep(ctx)
		return err
	})
	return res, err
}

// HandleDuplicateErrorAndRetry heals the data behind a uniqueness violation and
// then calls retry exactly once, returning its outcome. Errors that are not
// uniqueness violations are returned unchanged. When the healing itself fails
// the result is AUTO_CLEANUP_FAILED and retry is not called.
func (s *Service) HandleDuplicateErrorAndRetry(ctx context.Context, err error, retry func(ctx context.Context) error) error {
	if !IsDuplicateKeyError(err) {
		return err
	}

	cleanupErr := s.exclusive(ctx, func(ctx context.Context) error {
		key, ok := ExtractKey(err, s.cfg.Specs)
		if !ok {
			logger.Warn(ctx, "duplicate key not determined, running full sweep", "error", err)
			_, sweepErr := s.sweep(ctx)
			return sweepErr
		}
		_, resolveErr := s.resolve(ctx, key)
		return resolveErr
	})
	if cleanupErr != nil {
		logger.Error(ctx, "duplicate cleanup failed",
			"error", err,
			"cleanup_error", cleanupErr,
		)
		return apperror.NewAutoCleanupFailed(err, cleanupErr)
	}

	return retry(ctx)
}

func (s *Service) resolve(ctx context.Context, key Key) (*ResolveResult, error) {
	res := &ResolveResult{Key: key.String()}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.store.RowsByKey(ctx, key)
		if err != nil {
			return fmt.Errorf("load rows for %s: %w", key, err)
		}
		if len(rows) <= 1 {
			res.Kept = len(rows)
			return nil
		}

		sortNewestFirst(rows)
		victims := make([]id.ID, 0, len(rows)-1)
		for _, r := range rows[1:] {
			victims = append(victims, r.ID)
		}

		n, err := s.store.DeleteRows(ctx, key.Spec, victims)
		if err != nil {
			return fmt.Errorf("delete duplicates for %s: %w", key, err)
		}
		res.Eliminated = int(n)
		res.Kept = len(rows) - int(n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Eliminated > 0 {
		logger.Warn(ctx, "duplicate rows eliminated",
			"key", res.Key,
			"eliminated", res.Eliminated,
			"kept", res.Kept,
		)
	}
	return res, nil
}

func (s *Service) sweep(ctx context.Context) (*SweepResult, error) {
	out := &SweepResult{}
	for _, spec := range s.cfg.Specs {
		keys, err := s.store.DuplicateKeys(ctx, spec)
		if err != nil {
			return out, fmt.Errorf("find duplicates in %s: %w", spec.Name, err)
		}
		for _, key := range keys {
			res, err := s.resolve(ctx, key)
			if err != nil {
				return out, err
			}
			out.GroupsProcessed++
			out.TotalEliminated += res.Eliminated
			out.Groups = append(out.Groups, *res)
		}
	}

	logger.Info(ctx, "duplicate sweep finished",
		"groups", out.GroupsProcessed,
		"eliminated", out.TotalEliminated,
	)
	return out, nil
}
