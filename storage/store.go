package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// ErrNotFound is returned when a requested record does not exist.
// Callers that need to distinguish absence from failure unwrap to it.
var ErrNotFound = errors.New("record not found")

// Bucket names in bbolt
var (
	bucketPrecious  = []byte("precious")
	bucketOverrides = []byte("overrides")
	bucketApprovals = []byte("approvals")
	bucketMeta      = []byte("meta")
)

var keyCurrentRevision = []byte("current_revision")

// Store is the shared mutable state behind the decision engine:
// precious flags, break-glass overrides and approval records. Reads
// observe completed writes; a record is either fully visible or not
// there at all.
type Store struct {
	mu sync.RWMutex

	// In-memory approval index ordered by expiry, for sweeps and for
	// listing pending records soonest-due first
	index *btree.BTreeG[*approvalState]

	// On-disk storage
	db *bbolt.DB

	// Monotonic write counter, persisted in meta
	currentRev int64

	logger *telemetry.Logger

	path string
}

// approvalState tracks an approval in the expiry index
type approvalState struct {
	ID        string
	Status    types.ApprovalStatus
	ExpiresAt time.Time
}

func approvalLess(a, b *approvalState) bool {
	if a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ID < b.ID
	}
	return a.ExpiresAt.Before(b.ExpiresAt)
}

// Open opens or creates the store under dir
func Open(dir string, logger *telemetry.Logger) (*Store, error) {
	if logger == nil {
		logger = telemetry.NewLogger("storage")
	}

	dbPath := filepath.Join(dir, "changegate.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketPrecious, bucketOverrides, bucketApprovals, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	store := &Store{
		index:  btree.NewG[*approvalState](32, approvalLess),
		db:     db,
		logger: logger,
		path:   dbPath,
	}

	if err := store.loadRevision(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// CurrentRevision returns the monotonic write counter
func (s *Store) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// PutPrecious upserts a protection record
func (s *Store) PutPrecious(_ context.Context, record types.PreciousResource) error {
	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentRev++
	rev := s.currentRev

	return s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketPrecious).Put([]byte(record.ResourceID), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(rev))
	})
}

// GetPrecious fetches a protection record by resource id
func (s *Store) GetPrecious(_ context.Context, resourceID string) (types.PreciousResource, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record types.PreciousResource
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPrecious).Get([]byte(resourceID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("corrupt precious record %s: %w", resourceID, err)
		}
		found = true
		return nil
	})

	return record, found, err
}

// ListPrecious returns every protection record
func (s *Store) ListPrecious(_ context.Context) ([]types.PreciousResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []types.PreciousResource
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrecious).ForEach(func(k, v []byte) error {
			var record types.PreciousResource
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("corrupt precious record %s: %w", string(k), err)
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

// PutOverride stores the current break-glass override for a resource,
// replacing any previous one. Expired records stay until overwritten;
// status is always derived by the reader, never persisted.
func (s *Store) PutOverride(_ context.Context, override types.BreakGlassOverride) error {
	if override.ResourceID == "" {
		return fmt.Errorf("override resource ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentRev++
	rev := s.currentRev

	return s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(override)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketOverrides).Put([]byte(override.ResourceID), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(rev))
	})
}

// GetOverride fetches the current override for a resource
func (s *Store) GetOverride(_ context.Context, resourceID string) (types.BreakGlassOverride, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var override types.BreakGlassOverride
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketOverrides).Get([]byte(resourceID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &override); err != nil {
			return fmt.Errorf("corrupt override record %s: %w", resourceID, err)
		}
		found = true
		return nil
	})

	return override, found, err
}

// ListOverrides returns every stored override, live or expired
func (s *Store) ListOverrides(_ context.Context) ([]types.BreakGlassOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var overrides []types.BreakGlassOverride
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOverrides).ForEach(func(k, v []byte) error {
			var override types.BreakGlassOverride
			if err := json.Unmarshal(v, &override); err != nil {
				return fmt.Errorf("corrupt override record %s: %w", string(k), err)
			}
			overrides = append(overrides, override)
			return nil
		})
	})
	return overrides, err
}

// PutApproval upserts an approval record and its index entry
func (s *Store) PutApproval(_ context.Context, approval types.Approval) error {
	if err := approval.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentRev++
	rev := s.currentRev

	err := s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(approval)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketApprovals).Put([]byte(approval.ID), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(rev))
	})
	if err != nil {
		return err
	}

	s.index.ReplaceOrInsert(&approvalState{
		ID:        approval.ID,
		Status:    approval.Status,
		ExpiresAt: approval.ExpiresAt,
	})
	return nil
}

// GetApproval fetches one approval record
func (s *Store) GetApproval(_ context.Context, id string) (types.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var approval types.Approval
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketApprovals).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("approval %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &approval)
	})
	if err != nil {
		return types.Approval{}, err
	}
	return approval, nil
}

// ListApprovals returns records in the given status, soonest-expiring
// first
func (s *Store) ListApprovals(_ context.Context, status types.ApprovalStatus) ([]types.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	s.index.Ascend(func(state *approvalState) bool {
		if state.Status == status {
			ids = append(ids, state.ID)
		}
		return true
	})

	approvals := make([]types.Approval, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketApprovals)
		for _, id := range ids {
			data := bucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var approval types.Approval
			if err := json.Unmarshal(data, &approval); err != nil {
				return fmt.Errorf("corrupt approval record %s: %w", id, err)
			}
			approvals = append(approvals, approval)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approvals, nil
}

// PruneApprovals removes terminal approval records resolved before the
// cutoff. Pending and approved records are never pruned; the audit
// trail, not the store, is the permanent history. Returns how many
// records were removed.
func (s *Store) PruneApprovals(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []types.Approval
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketApprovals)

		if err := bucket.ForEach(func(k, v []byte) error {
			var approval types.Approval
			if err := json.Unmarshal(v, &approval); err != nil {
				return fmt.Errorf("corrupt approval record %s: %w", string(k), err)
			}
			if !approval.Status.Terminal() {
				return nil
			}
			if approval.ResolvedAt.IsZero() || !approval.ResolvedAt.Before(cutoff) {
				return nil
			}
			doomed = append(doomed, approval)
			return nil
		}); err != nil {
			return err
		}

		for _, approval := range doomed {
			if err := bucket.Delete([]byte(approval.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, approval := range doomed {
		s.index.Delete(&approvalState{ID: approval.ID, ExpiresAt: approval.ExpiresAt})
	}
	return len(doomed), nil
}

// Compact rewrites the database without its free pages, reclaiming the
// space left behind by pruned approvals. The store is locked for the
// duration; readers and writers wait. Records, revision and the index
// are unchanged, only the file shrinks. Returns bytes reclaimed.
func (s *Store) Compact(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := os.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat database: %w", err)
	}

	tmpPath := s.path + ".compact"
	dst, err := bbolt.Open(tmpPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return 0, fmt.Errorf("failed to open compaction target: %w", err)
	}
	if err := bbolt.Compact(dst, s.db, 0); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("compaction failed: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close compaction target: %w", err)
	}

	if err := s.db.Close(); err != nil {
		return 0, fmt.Errorf("failed to close database for swap: %w", err)
	}
	renameErr := os.Rename(tmpPath, s.path)
	if renameErr != nil {
		// The original file is untouched on a failed rename; reopen it
		// so the store stays usable, then report.
		_ = os.Remove(tmpPath)
	}
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return 0, fmt.Errorf("failed to reopen database after compaction: %w", err)
	}
	s.db = db
	if renameErr != nil {
		return 0, fmt.Errorf("failed to swap compacted database: %w", renameErr)
	}

	after, err := os.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat compacted database: %w", err)
	}
	saved := before.Size() - after.Size()
	s.logger.Info().
		Int64("bytes_before", before.Size()).
		Int64("bytes_after", after.Size()).
		Msg("Database compacted")
	return saved, nil
}

// Helper functions

func (s *Store) loadRevision() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyCurrentRevision)
		if data != nil {
			s.currentRev = bytesToInt64(data)
		}
		return nil
	})
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketApprovals).ForEach(func(k, v []byte) error {
			var approval types.Approval
			if err := json.Unmarshal(v, &approval); err != nil {
				return fmt.Errorf("corrupt approval record %s: %w", string(k), err)
			}
			s.index.ReplaceOrInsert(&approvalState{
				ID:        approval.ID,
				Status:    approval.Status,
				ExpiresAt: approval.ExpiresAt,
			})
			return nil
		})
	})
}

func int64ToBytes(n int64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func bytesToInt64(b []byte) int64 {
	var n int64
	fmt.Sscanf(string(b), "%d", &n)
	return n
}
