package index

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/ragvault/internal/db/file"
	"github.com/kailas-cloud/ragvault/internal/domain"
)

// SnapshotFile is the name of the index snapshot inside the index directory.
const SnapshotFile = "index.snapshot"

const snapshotVersion = 1

type snapshotDTO struct {
	Version    int               `json:"version"`
	ID         string            `json:"id"`
	SavedAt    time.Time         `json:"saved_at"`
	Dimension  int               `json:"dimension"`
	NextSeq    uint64            `json:"next_seq"`
	Entries    []entryDTO        `json:"entries"`
	Tombstones map[string]uint64 `json:"tombstones,omitempty"`
}

type entryDTO struct {
	Seq        uint64 `json:"seq"`
	Vector     string `json:"vector"` // base64 of little-endian float32
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	ChunkIndex int    `json:"chunk_index"`
	Title      string `json:"title"`
	Notes      string `json:"notes,omitempty"`
	SourcePath string `json:"source_path"`
}

// fileStamp identifies one written snapshot file. Every Save renames a new file into
// place, so a changed stamp means another writer saved since.
type fileStamp struct {
	info fs.FileInfo // nil when no snapshot exists
}

func statSnapshot(dir string) (fileStamp, error) {
	info, err := os.Stat(filepath.Join(dir, SnapshotFile))
	if errors.Is(err, fs.ErrNotExist) {
		return fileStamp{}, nil
	}
	if err != nil {
		return fileStamp{}, fmt.Errorf("%w: stat snapshot: %w", domain.ErrPersistence, err)
	}
	return fileStamp{info: info}, nil
}

func (a fileStamp) same(b fileStamp) bool {
	if a.info == nil || b.info == nil {
		return a.info == nil && b.info == nil
	}
	return os.SameFile(a.info, b.info) &&
		a.info.ModTime().Equal(b.info.ModTime()) &&
		a.info.Size() == b.info.Size()
}

// Load reads the snapshot in dir. A missing snapshot yields an empty index of dimension dim.
func Load(dir string, dim int) (*Index, error) {
	st, err := statSnapshot(dir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, SnapshotFile)
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return New(dim), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot %s: %w", domain.ErrPersistence, path, err)
	}

	var dto snapshotDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot %s: %w", domain.ErrPersistence, path, err)
	}
	if dto.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", domain.ErrPersistence, dto.Version)
	}
	if dto.Dimension != dim {
		return nil, fmt.Errorf("%w: snapshot has %d dimensions, embedder has %d",
			domain.ErrVectorDimMismatch, dto.Dimension, dim)
	}

	ix, err := fromDTO(dto)
	if err != nil {
		return nil, err
	}
	ix.stamp = st
	return ix, nil
}

// Save writes a full snapshot of ix into dir. The file is written to a temporary name, synced
// and renamed, so concurrent Load calls see either the previous or the new snapshot.
// On success ix is stamped with a new snapshot id.
func Save(dir string, ix *Index) error {
	id := uuid.NewString()
	savedAt := time.Now().UTC()
	data, err := json.Marshal(toDTO(ix, id, savedAt))
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %w", domain.ErrPersistence, err)
	}

	if err := file.WriteAtomic(filepath.Join(dir, SnapshotFile), data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	ix.id = id
	ix.savedAt = savedAt
	// A failed stat leaves a stamp that never matches, so the next writer reloads.
	ix.stamp, _ = statSnapshot(dir)
	return nil
}

func toDTO(ix *Index, id string, savedAt time.Time) snapshotDTO {
	dto := snapshotDTO{
		Version:    snapshotVersion,
		ID:         id,
		SavedAt:    savedAt,
		Dimension:  ix.dim,
		NextSeq:    ix.nextSeq,
		Entries:    make([]entryDTO, len(ix.records)),
		Tombstones: ix.tombstones,
	}
	for i, r := range ix.records {
		m := r.entry.Metadata
		dto.Entries[i] = entryDTO{
			Seq:        r.seq,
			Vector:     base64.StdEncoding.EncodeToString(domain.EncodeVector(r.entry.Vector)),
			Text:       r.entry.Text,
			DocumentID: m.DocumentID,
			UserID:     m.UserID,
			ChunkIndex: m.ChunkIndex,
			Title:      m.Title,
			Notes:      m.Notes,
			SourcePath: m.SourcePath,
		}
	}
	return dto
}

func fromDTO(dto snapshotDTO) (*Index, error) {
	ix := New(dto.Dimension)
	ix.id = dto.ID
	ix.savedAt = dto.SavedAt
	ix.nextSeq = dto.NextSeq
	ix.records = make([]record, 0, len(dto.Entries))
	for k, v := range dto.Tombstones {
		ix.tombstones[k] = v
	}

	for i, e := range dto.Entries {
		raw, err := base64.StdEncoding.DecodeString(e.Vector)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d vector: %w", domain.ErrPersistence, i, err)
		}
		vec, err := domain.DecodeVector(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d vector: %w", domain.ErrPersistence, i, err)
		}
		if len(vec) != dto.Dimension {
			return nil, fmt.Errorf("%w: entry %d has %d dimensions, snapshot has %d",
				domain.ErrVectorDimMismatch, i, len(vec), dto.Dimension)
		}
		if e.Seq >= ix.nextSeq {
			ix.nextSeq = e.Seq + 1
		}
		ix.records = append(ix.records, record{
			seq: e.Seq,
			entry: domain.Entry{
				Vector: vec,
				Text:   e.Text,
				Metadata: domain.Metadata{
					DocumentID: e.DocumentID,
					UserID:     e.UserID,
					ChunkIndex: e.ChunkIndex,
					Title:      e.Title,
					Notes:      e.Notes,
					SourcePath: e.SourcePath,
				},
			},
		})
	}
	return ix, nil
}
