package ragvault

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newVault(t *testing.T, dir string, opts ...Option) *Client {
	t.Helper()
	c, err := New(context.Background(), append([]Option{WithBaseDir(dir)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func textDoc(id, userID, title, text string) Document {
	return Document{ID: id, UserID: userID, Title: title, Filename: id + ".txt", Content: []byte(text)}
}

func mustIngest(t *testing.T, c *Client, doc Document) Receipt {
	t.Helper()
	r, err := c.Ingest(context.Background(), doc)
	if err != nil {
		t.Fatalf("Ingest(%s): %v", doc.ID, err)
	}
	return r
}

func TestScenario_CapitalOfFrance(t *testing.T) {
	c := newVault(t, t.TempDir())
	r := mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))
	if r.ChunkCount != 1 || r.FilePath != "d1_d1.txt" {
		t.Errorf("unexpected receipt %+v", r)
	}

	a, err := c.Query(context.Background(), Question{Text: "What is the capital of France?", UserID: "u1", TopK: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(a.Chunks) == 0 || !strings.Contains(a.Chunks[0].Text, "Paris") {
		t.Fatalf("expected Paris chunk, got %+v", a.Chunks)
	}
	want := []Citation{{Title: "France", DocumentID: "d1"}}
	if !reflect.DeepEqual(a.Citations, want) {
		t.Errorf("citations: got %+v, want %+v", a.Citations, want)
	}
	if !strings.Contains(a.Text, "[Source 1]") {
		t.Errorf("expected a cited answer, got %q", a.Text)
	}
}

func TestScenario_OtherUserHasNoDocuments(t *testing.T) {
	c := newVault(t, t.TempDir())
	mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))

	a, err := c.Query(context.Background(), Question{Text: "What is the capital of France?", UserID: "u2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(a.Chunks) != 0 || len(a.Citations) != 0 {
		t.Errorf("expected no chunks for u2, got %+v", a)
	}
	if a.Text != NoDocumentsAnswer {
		t.Errorf("unexpected answer %q", a.Text)
	}
}

func TestScenario_EmptyFileLeavesIndexUnchanged(t *testing.T) {
	c := newVault(t, t.TempDir())
	mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))
	q := Question{Text: "capital of France", UserID: "u1"}

	before, err := c.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	_, err = c.Ingest(context.Background(), textDoc("d2", "u1", "Blank", ""))
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if ErrorKind(err) != "empty_document" {
		t.Errorf("unexpected kind %q", ErrorKind(err))
	}

	after, err := c.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("index changed:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestTenantIsolation(t *testing.T) {
	c := newVault(t, t.TempDir(), WithOverfetch(1))
	for i := range 5 {
		mustIngest(t, c, textDoc(fmt.Sprintf("a%d", i), "u1", "Rome", "Rome is the capital of Italy."))
	}
	mustIngest(t, c, textDoc("b1", "u2", "Garden", "Tomatoes need full sun and regular water."))

	chunks, err := c.Retrieve(context.Background(), Question{Text: "capital of Italy", UserID: "u2", TopK: 3})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, ch := range chunks {
		if ch.DocumentID != "b1" {
			t.Errorf("u2 received another user's chunk %+v", ch)
		}
	}
}

func TestRetrieve_NoMatchIsEmptySlice(t *testing.T) {
	c := newVault(t, t.TempDir())

	chunks, err := c.Retrieve(context.Background(), Question{Text: "anything", UserID: "u1"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if chunks == nil || len(chunks) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", chunks)
	}
}

func TestRetrieve_InvalidQuestion(t *testing.T) {
	c := newVault(t, t.TempDir())

	if _, err := c.Retrieve(context.Background(), Question{UserID: "u1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestReopenKeepsSearchResults(t *testing.T) {
	dir := t.TempDir()
	q := Question{Text: "Which river flows through Paris?", UserID: "u1", TopK: 3}

	c1 := newVault(t, dir, WithChunking(60, 10))
	mustIngest(t, c1, textDoc("d1", "u1", "Paris",
		"Paris is the capital of France. The Seine flows through Paris. The Louvre is a museum."))
	mustIngest(t, c1, textDoc("d2", "u1", "Lyon", "Lyon lies where the Rhone meets the Saone."))
	want, err := c1.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	c2 := newVault(t, dir, WithChunking(60, 10))
	got, err := c2.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve after reopen: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("results differ after reopen:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestDuplicatePolicies(t *testing.T) {
	q := Question{Text: "capital", UserID: "u1", TopK: 10}

	t.Run("replace", func(t *testing.T) {
		c := newVault(t, t.TempDir())
		mustIngest(t, c, textDoc("d1", "u1", "Old", "The capital is Bonn."))
		r := mustIngest(t, c, textDoc("d1", "u1", "New", "The capital is Berlin."))
		if !r.Replaced {
			t.Error("expected Replaced")
		}
		chunks, _ := c.Retrieve(context.Background(), q)
		if len(chunks) != 1 || chunks[0].Title != "New" {
			t.Errorf("expected only the new version, got %+v", chunks)
		}
	})

	t.Run("reject", func(t *testing.T) {
		c := newVault(t, t.TempDir(), WithDuplicatePolicy(DuplicateReject))
		mustIngest(t, c, textDoc("d1", "u1", "Old", "The capital is Bonn."))
		_, err := c.Ingest(context.Background(), textDoc("d1", "u1", "New", "The capital is Berlin."))
		if !errors.Is(err, ErrDuplicateDocument) {
			t.Fatalf("expected ErrDuplicateDocument, got %v", err)
		}
	})

	t.Run("append", func(t *testing.T) {
		c := newVault(t, t.TempDir(), WithDuplicatePolicy(DuplicateAppend))
		mustIngest(t, c, textDoc("d1", "u1", "Old", "The capital is Bonn."))
		mustIngest(t, c, textDoc("d1", "u1", "New", "The capital is Berlin."))
		chunks, _ := c.Retrieve(context.Background(), q)
		if len(chunks) != 2 {
			t.Errorf("expected both versions, got %+v", chunks)
		}
	})
}

func TestDocumentIDBelongsToFirstOwner(t *testing.T) {
	for _, policy := range []DuplicatePolicy{DuplicateReplace, DuplicateReject, DuplicateAppend} {
		t.Run(string(policy), func(t *testing.T) {
			c := newVault(t, t.TempDir(), WithDuplicatePolicy(policy))
			mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))

			_, err := c.Ingest(context.Background(), textDoc("d1", "u2", "Fruit", "Bananas are yellow."))
			if !errors.Is(err, ErrDuplicateDocument) {
				t.Fatalf("expected ErrDuplicateDocument, got %v", err)
			}

			chunks, err := c.Retrieve(context.Background(), Question{Text: "capital of France", UserID: "u1"})
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if len(chunks) != 1 || !strings.Contains(chunks[0].Text, "Paris") {
				t.Errorf("u1 lost its document: %+v", chunks)
			}
			p, err := c.Preview(context.Background(), "d1", "u1", "")
			if err != nil || !strings.Contains(p.Content, "Paris") {
				t.Errorf("u1 preview = %q, %v", p.Content, err)
			}
			if _, err := c.Preview(context.Background(), "d1", "u2", ""); !errors.Is(err, ErrDocumentNotFound) {
				t.Errorf("expected ErrDocumentNotFound for u2, got %v", err)
			}
		})
	}
}

func TestConcurrentIngestionsLoseNothing(t *testing.T) {
	c := newVault(t, t.TempDir())

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Ingest(context.Background(),
				textDoc(fmt.Sprintf("d%d", i), "u1", "Note", fmt.Sprintf("Note number %d about gardening.", i)))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	chunks, err := c.Retrieve(context.Background(), Question{Text: "gardening note", UserID: "u1", TopK: 20})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != n {
		t.Errorf("expected %d chunks, got %d", n, len(chunks))
	}
}

func TestQueryStream_Order(t *testing.T) {
	c := newVault(t, t.TempDir())
	mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))

	events, err := c.QueryStream(context.Background(), Question{Text: "What is the capital of France?", UserID: "u1"})
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) < 3 {
		t.Fatalf("expected citations, tokens and done, got %+v", got)
	}
	if got[0].Type != EventCitations || len(got[0].Citations) != 1 {
		t.Errorf("first event must be citations, got %+v", got[0])
	}
	var text strings.Builder
	for _, ev := range got[1 : len(got)-1] {
		if ev.Type != EventToken {
			t.Fatalf("expected only tokens between citations and done, got %+v", ev)
		}
		text.WriteString(ev.Token)
	}
	if last := got[len(got)-1]; last.Type != EventDone {
		t.Errorf("expected done, got %+v", last)
	}
	if !strings.Contains(text.String(), "Paris") {
		t.Errorf("unexpected streamed text %q", text.String())
	}
}

func TestQueryStream_NoDocuments(t *testing.T) {
	c := newVault(t, t.TempDir())

	events, err := c.QueryStream(context.Background(), Question{Text: "capital?", UserID: "u2"})
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}
	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].Type != EventCitations || got[1].Type != EventError {
		t.Fatalf("expected citations then error, got %+v", got)
	}
	if !errors.Is(got[1].Err, ErrNoDocuments) || got[1].Message != "No documents found in your Knowledge Vault" {
		t.Errorf("unexpected error event %+v", got[1])
	}
}

func TestQueryStream_InvalidQuestion(t *testing.T) {
	c := newVault(t, t.TempDir())

	if _, err := c.QueryStream(context.Background(), Question{Text: "q"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	c := newVault(t, t.TempDir())
	mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))

	p, err := c.Preview(context.Background(), "d1", "u1", "")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.Content != "Paris is the capital of France." || p.ContentType != "text/plain" || p.Filename != "d1_d1.txt" {
		t.Errorf("unexpected preview %+v", p)
	}

	if _, err := c.Preview(context.Background(), "d1", "u2", ""); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound for another user, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	c := newVault(t, t.TempDir())

	h := c.Health(context.Background())
	if h.Status != "ok" {
		t.Errorf("expected ok, got %+v", h)
	}
	if h.Checks["index"] != "ok" || h.Checks["embedding"] != "ok" {
		t.Errorf("unexpected checks %+v", h.Checks)
	}
	if _, ok := h.Checks["cache"]; ok {
		t.Error("cache check must be absent without a cache")
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"overlap >= size", WithChunking(100, 100)},
		{"unknown policy", WithDuplicatePolicy("merge")},
		{"custom embedder without dimensions", WithEmbedder(&countingEmbedder{}, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(context.Background(), WithBaseDir(t.TempDir()), tt.opt); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWithEmbedder_BatchPath(t *testing.T) {
	emb := &countingEmbedder{dim: 8}
	c := newVault(t, t.TempDir(), WithEmbedder(emb, 8), WithChunking(40, 5))

	r := mustIngest(t, c, textDoc("d1", "u1", "Long",
		strings.Repeat("Gardening notes about tomatoes and basil. ", 6)))
	if r.ChunkCount < 2 {
		t.Fatalf("expected several chunks, got %d", r.ChunkCount)
	}
	if emb.batchCalls != 1 || emb.singleCalls != 0 {
		t.Errorf("expected one batch call, got batch=%d single=%d", emb.batchCalls, emb.singleCalls)
	}
}

func TestWithGenerator(t *testing.T) {
	gen := &fixedGenerator{text: "Paris [Source 1]", tokens: 7}
	c := newVault(t, t.TempDir(), WithGenerator(gen))
	mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))

	a, err := c.Query(context.Background(), Question{Text: "capital of France?", UserID: "u1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if a.Text != "Paris [Source 1]" || a.TokensUsed != 7 {
		t.Errorf("unexpected answer %+v", a)
	}
	if !strings.Contains(gen.userPrompt, "[Source 1] Paris is the capital of France.") {
		t.Errorf("prompt missing source:\n%s", gen.userPrompt)
	}
}

func TestWithGenerator_FailureReportedInAnswer(t *testing.T) {
	c := newVault(t, t.TempDir(), WithGenerator(&fixedGenerator{err: errors.New("quota")}))
	mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))

	a, err := c.Query(context.Background(), Question{Text: "capital of France?", UserID: "u1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.HasPrefix(a.Text, "Error generating answer: ") || a.Error == "" {
		t.Errorf("expected error answer, got %+v", a)
	}
	if len(a.Chunks) != 1 || len(a.Citations) != 1 {
		t.Errorf("retrieval results must be kept, got %+v", a)
	}
}

func TestWithPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newVault(t, t.TempDir(), WithPrometheus(reg))

	mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))
	_, _ = c.Ingest(context.Background(), textDoc("d2", "u1", "Blank", " "))

	ops := c.obs.metrics.operations
	if got := testutil.ToFloat64(ops.WithLabelValues("ingest", "ok")); got != 1 {
		t.Errorf("ingest ok: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(ops.WithLabelValues("ingest", "empty_document")); got != 1 {
		t.Errorf("ingest empty_document: got %v, want 1", got)
	}

	mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France. Lyon is a city in France."))
	if got := testutil.ToFloat64(c.obs.metrics.chunks.WithLabelValues("false")); got != 1 {
		t.Errorf("first version chunks: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.obs.metrics.chunks.WithLabelValues("true")); got != 1 {
		t.Errorf("replacement chunks: got %v, want 1", got)
	}

	// A second client on the same registry reuses the collectors.
	if _, err := New(context.Background(), WithBaseDir(t.TempDir()), WithPrometheus(reg)); err != nil {
		t.Fatalf("second client: %v", err)
	}
}

func TestQueryStream_CancelClosesChannel(t *testing.T) {
	gen := &fixedGenerator{text: "a b c d e f", block: true}
	c := newVault(t, t.TempDir(), WithGenerator(gen))
	mustIngest(t, c, textDoc("d1", "u1", "France", "Paris is the capital of France."))

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.QueryStream(ctx, Question{Text: "capital?", UserID: "u1"})
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}
	if ev := <-events; ev.Type != EventCitations {
		t.Fatalf("expected citations, got %+v", ev)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for ev := range events {
			if ev.Type == EventDone {
				t.Errorf("unexpected done after cancel")
			}
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !gen.closed() {
		if time.Now().After(deadline) {
			t.Fatal("model stream must be closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
