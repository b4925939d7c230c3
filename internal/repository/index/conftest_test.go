package index

import (
	"github.com/kailas-cloud/ragvault/internal/domain"
)

const testDim = 3

func entry(docID, userID string, chunk int, vec ...float32) domain.Entry {
	return domain.Entry{
		Vector: vec,
		Text:   docID + " chunk",
		Metadata: domain.Metadata{
			DocumentID: docID,
			UserID:     userID,
			ChunkIndex: chunk,
			Title:      "Title " + docID,
			SourcePath: docID + "_file.txt",
		},
	}
}

func hitIDs(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Entry.Metadata.DocumentID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
