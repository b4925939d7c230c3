// Package index holds the persisted vector index: an append-only list of embedded chunks
// searched by exact cosine similarity.
package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// Hit is one ranked search result. Higher Score is more similar.
type Hit struct {
	Entry domain.Entry
	Score float64
}

type record struct {
	seq   uint64
	entry domain.Entry
}

// Index is an in-memory snapshot of the vector index. Handles returned by Store are never
// mutated; writers work on a Clone.
type Index struct {
	id         string
	savedAt    time.Time
	dim        int
	nextSeq    uint64
	records    []record
	tombstones map[string]uint64 // document_id -> entries with a lower seq are hidden
	stamp      fileStamp
}

// New returns an empty index for vectors of dimension dim.
func New(dim int) *Index {
	return &Index{dim: dim, tombstones: map[string]uint64{}}
}

// ID returns the snapshot id assigned by the last Save, empty if never saved.
func (ix *Index) ID() string { return ix.id }

// SavedAt returns the time of the last Save.
func (ix *Index) SavedAt() time.Time { return ix.savedAt }

// Dimension returns the vector dimensionality.
func (ix *Index) Dimension() int { return ix.dim }

// Len returns the number of entries visible to search.
func (ix *Index) Len() int {
	n := 0
	for _, r := range ix.records {
		if ix.visible(r) {
			n++
		}
	}
	return n
}

// Add appends entries in order. No uniqueness is enforced. All vectors are checked
// before anything is appended.
func (ix *Index) Add(entries ...domain.Entry) error {
	for i, e := range entries {
		if len(e.Vector) != ix.dim {
			return fmt.Errorf("%w: entry %d has %d dimensions, index has %d",
				domain.ErrVectorDimMismatch, i, len(e.Vector), ix.dim)
		}
	}
	for _, e := range entries {
		ix.records = append(ix.records, record{seq: ix.nextSeq, entry: e})
		ix.nextSeq++
	}
	return nil
}

// Tombstone hides every entry of documentID added so far. Later additions stay visible.
func (ix *Index) Tombstone(documentID string) {
	ix.tombstones[documentID] = ix.nextSeq
}

// Contains reports whether any visible entry belongs to documentID.
func (ix *Index) Contains(documentID string) bool {
	_, ok := ix.Owner(documentID)
	return ok
}

// Owner returns the user of the first visible entry of documentID.
func (ix *Index) Owner(documentID string) (string, bool) {
	for _, r := range ix.records {
		if r.entry.Metadata.DocumentID == documentID && ix.visible(r) {
			return r.entry.Metadata.UserID, true
		}
	}
	return "", false
}

// Document returns the metadata of the first visible entry of documentID owned by userID.
func (ix *Index) Document(documentID, userID string) (domain.Metadata, bool) {
	for _, r := range ix.records {
		md := r.entry.Metadata
		if md.DocumentID == documentID && md.UserID == userID && ix.visible(r) {
			return md, true
		}
	}
	return domain.Metadata{}, false
}

// Search returns up to k visible entries ranked by cosine similarity.
// Exact ties keep insertion order.
func (ix *Index) Search(vector []float32, k int) ([]Hit, error) {
	if len(vector) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			domain.ErrVectorDimMismatch, len(vector), ix.dim)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(ix.records))
	for _, r := range ix.records {
		if !ix.visible(r) {
			continue
		}
		hits = append(hits, Hit{Entry: r.entry, Score: domain.CosineSimilarity(vector, r.entry.Vector)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Clone returns a copy that can be extended without affecting ix.
// Entries are immutable and shared.
func (ix *Index) Clone() *Index {
	c := &Index{
		id:         ix.id,
		savedAt:    ix.savedAt,
		dim:        ix.dim,
		nextSeq:    ix.nextSeq,
		records:    make([]record, len(ix.records), len(ix.records)+64),
		tombstones: make(map[string]uint64, len(ix.tombstones)),
		stamp:      ix.stamp,
	}
	copy(c.records, ix.records)
	for k, v := range ix.tombstones {
		c.tombstones[k] = v
	}
	return c
}

func (ix *Index) visible(r record) bool {
	hiddenBelow, ok := ix.tombstones[r.entry.Metadata.DocumentID]
	return !ok || r.seq >= hiddenBelow
}
