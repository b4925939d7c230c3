package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/db/file"
	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/metrics"
)

// LockFile is the advisory lock inside the index directory held by every writer.
const LockFile = "index.lock"

// Store owns the on-disk index of one deployment. Writers are serialized within the process
// and, through LockFile, across processes sharing the directory: each Append runs load, add
// and save under both locks, rereads the snapshot if another process saved since, and
// publishes the new snapshot only after the save succeeded. Readers take the current
// snapshot without waiting for writers; Reload picks up saves made elsewhere.
type Store struct {
	dir    string
	dim    int
	logger *zap.Logger
	save   func(dir string, ix *Index) error

	writer   chan struct{} // capacity 1, held by the single writer
	fileLock *file.Lock
	current  atomic.Pointer[Index]
}

// NewStore creates a store for the index in dir. Nothing is read until first use.
func NewStore(dir string, dim int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:      dir,
		dim:      dim,
		logger:   logger,
		save:     Save,
		writer:   make(chan struct{}, 1),
		fileLock: file.NewLock(filepath.Join(dir, LockFile)),
	}
}

// Dir returns the index directory.
func (s *Store) Dir() string { return s.dir }

// Dimension returns the configured vector dimensionality.
func (s *Store) Dimension() int { return s.dim }

// Snapshot returns the current index, loading it from disk on first use.
// The returned index must not be modified.
func (s *Store) Snapshot(ctx context.Context) (*Index, error) {
	if ix := s.current.Load(); ix != nil {
		return ix, nil
	}
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.loadLocked()
}

// Reload discards the in-memory snapshot and reads the persisted one again.
func (s *Store) Reload(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	ix, err := Load(s.dir, s.dim)
	if err != nil {
		return fmt.Errorf("reload index: %w", err)
	}
	s.publish(ix)
	return nil
}

// Owner returns the user that owns documentID, if it has visible entries.
func (s *Store) Owner(ctx context.Context, documentID string) (string, bool, error) {
	ix, err := s.Snapshot(ctx)
	if err != nil {
		return "", false, err
	}
	owner, ok := ix.Owner(documentID)
	return owner, ok, nil
}

// Search ranks the current snapshot against vector.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	ix, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Search(vector, k)
}

// Document returns the metadata of documentID as indexed for userID.
func (s *Store) Document(ctx context.Context, documentID, userID string) (domain.Metadata, bool, error) {
	ix, err := s.Snapshot(ctx)
	if err != nil {
		return domain.Metadata{}, false, err
	}
	md, ok := ix.Document(documentID, userID)
	return md, ok, nil
}

// Append adds the entries of one document owned by userID and persists the index.
// A documentID owned by another user fails with domain.ErrDuplicateDocument under every
// policy. Under DuplicateReject an already indexed documentID fails the same way; under
// DuplicateReplace earlier entries are tombstoned in the same save. If the save fails the
// published snapshot is unchanged. Replaced reports whether earlier entries were hidden.
func (s *Store) Append(
	ctx context.Context, userID, documentID string, entries []domain.Entry, policy domain.DuplicatePolicy,
) (replaced bool, err error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.unlock()

	if err := s.fileLock.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("wait for index writer: %w", err)
		}
		return false, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	defer func() {
		if err := s.fileLock.Release(); err != nil {
			s.logger.Error("Failed to release index lock", zap.String("dir", s.dir), zap.Error(err))
		}
	}()

	cur, err := s.refreshLocked()
	if err != nil {
		return false, err
	}

	owner, exists := cur.Owner(documentID)
	if exists && owner != userID {
		return false, fmt.Errorf("%w: %s is owned by another user", domain.ErrDuplicateDocument, documentID)
	}
	if exists && policy == domain.DuplicateReject {
		return false, fmt.Errorf("%w: %s", domain.ErrDuplicateDocument, documentID)
	}
	for i, e := range entries {
		if e.Metadata.DocumentID != documentID || e.Metadata.UserID != userID {
			return false, fmt.Errorf("%w: entry %d belongs to %s/%s, not %s/%s", domain.ErrInvalidInput,
				i, e.Metadata.UserID, e.Metadata.DocumentID, userID, documentID)
		}
	}

	next := cur.Clone()
	if exists && policy == domain.DuplicateReplace {
		next.Tombstone(documentID)
		replaced = true
	}
	if err := next.Add(entries...); err != nil {
		return false, fmt.Errorf("add entries: %w", err)
	}

	start := time.Now()
	err = s.save(s.dir, next)
	metrics.ObserveIndexSave(start, err)
	if err != nil {
		return false, fmt.Errorf("save index: %w", err)
	}

	s.publish(next)
	s.logger.Debug("index saved",
		zap.String("snapshot_id", next.ID()),
		zap.String("document_id", documentID),
		zap.Int("added", len(entries)),
		zap.Bool("replaced", replaced),
		zap.Duration("save_duration", time.Since(start)),
	)
	return replaced, nil
}

// HealthCheck verifies that the index can be loaded.
func (s *Store) HealthCheck(ctx context.Context) error {
	_, err := s.Snapshot(ctx)
	return err
}

func (s *Store) loadLocked() (*Index, error) {
	if ix := s.current.Load(); ix != nil {
		return ix, nil
	}
	ix, err := Load(s.dir, s.dim)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	s.publish(ix)
	s.logger.Info("index loaded",
		zap.String("dir", s.dir),
		zap.String("snapshot_id", ix.ID()),
		zap.Int("entries", ix.Len()),
	)
	return ix, nil
}

// refreshLocked returns the current snapshot, rereading it when the file on disk is no
// longer the one it was loaded from or saved as.
func (s *Store) refreshLocked() (*Index, error) {
	cur := s.current.Load()
	if cur == nil {
		return s.loadLocked()
	}
	st, err := statSnapshot(s.dir)
	if err != nil {
		return nil, err
	}
	if st.same(cur.stamp) {
		return cur, nil
	}

	ix, err := Load(s.dir, s.dim)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	s.publish(ix)
	s.logger.Info("index changed on disk, reloaded",
		zap.String("dir", s.dir),
		zap.String("previous_snapshot_id", cur.ID()),
		zap.String("snapshot_id", ix.ID()),
		zap.Int("entries", ix.Len()),
	)
	return ix, nil
}

func (s *Store) publish(ix *Index) {
	s.current.Store(ix)
	metrics.IndexEntries.Set(float64(ix.Len()))
}

func (s *Store) lock(ctx context.Context) error {
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for index writer: %w", ctx.Err())
	}
}

func (s *Store) unlock() {
	<-s.writer
}
