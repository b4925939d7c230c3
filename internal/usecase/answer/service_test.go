package answer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// --- Mocks ---

type mockRetriever struct {
	chunks []domain.RetrievedChunk
	err    error
}

func (m *mockRetriever) Retrieve(_ context.Context, q domain.Query) ([]domain.RetrievedChunk, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return m.chunks, m.err
}

type mockStream struct {
	mu     sync.Mutex
	ctx    context.Context
	tokens []string
	err    error // returned after the tokens instead of io.EOF
	block  bool  // block after the tokens until ctx is done
	closed bool
	// onToken runs before a token is handed out.
	onToken func(tok string)
}

func (m *mockStream) Recv() (string, error) {
	m.mu.Lock()
	if len(m.tokens) > 0 {
		tok := m.tokens[0]
		m.tokens = m.tokens[1:]
		m.mu.Unlock()
		if m.onToken != nil {
			m.onToken(tok)
		}
		return tok, nil
	}
	m.mu.Unlock()
	if m.block {
		<-m.ctx.Done()
		return "", m.ctx.Err()
	}
	if m.err != nil {
		return "", m.err
	}
	return "", io.EOF
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockStream) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockGenerator struct {
	completion  domain.Completion
	completeErr error
	stream      *mockStream
	streamErr   error
	calls       int
	userPrompt  string
	waitForCtx  bool
}

func (m *mockGenerator) Complete(ctx context.Context, _, user string) (domain.Completion, error) {
	m.calls++
	m.userPrompt = user
	if m.waitForCtx {
		<-ctx.Done()
		return domain.Completion{}, ctx.Err()
	}
	return m.completion, m.completeErr
}

func (m *mockGenerator) Stream(ctx context.Context, _, user string) (domain.TokenStream, error) {
	m.calls++
	m.userPrompt = user
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	m.stream.ctx = ctx
	return m.stream, nil
}

var twoDocs = []domain.RetrievedChunk{
	{Text: "Paris is the capital of France.", Title: "France", DocumentID: "d1", ChunkIndex: 0, RelevanceScore: 0.9},
	{Text: "The Louvre is in Paris.", Title: "France", DocumentID: "d1", ChunkIndex: 1, RelevanceScore: 0.8},
	{Text: "Lyon has great food.", Title: "Lyon", DocumentID: "d2", ChunkIndex: 0, RelevanceScore: 0.5},
}

func query() domain.Query {
	return domain.Query{Text: "What is the capital of France?", UserID: "u1", TopK: 3}
}

func collect(t *testing.T, ch <-chan domain.Event) []domain.Event {
	t.Helper()
	var events []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

// --- Answer tests ---

func TestAnswer_Success(t *testing.T) {
	gen := &mockGenerator{completion: domain.Completion{Text: "Paris [Source 1]", TotalTokens: 42}}
	svc := New(&mockRetriever{chunks: twoDocs}, gen, Options{}, zap.NewNop())

	ctx, usage := domain.NewContextWithUsage(context.Background())
	a, err := svc.Answer(ctx, query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Answer != "Paris [Source 1]" {
		t.Errorf("unexpected answer %q", a.Answer)
	}
	if len(a.Chunks) != 3 {
		t.Errorf("expected 3 chunks, got %d", len(a.Chunks))
	}
	want := []domain.Citation{{Title: "France", DocumentID: "d1"}, {Title: "Lyon", DocumentID: "d2"}}
	if len(a.Citations) != len(want) || a.Citations[0] != want[0] || a.Citations[1] != want[1] {
		t.Errorf("unexpected citations %+v", a.Citations)
	}
	if a.TokensUsed == nil || *a.TokensUsed != 42 {
		t.Errorf("expected tokens_used 42, got %v", a.TokensUsed)
	}
	if usage.GenerationTokens() != 42 {
		t.Errorf("expected usage 42, got %d", usage.GenerationTokens())
	}
	if !strings.Contains(gen.userPrompt, "[Source 3] Lyon has great food.") {
		t.Errorf("prompt missing numbered source:\n%s", gen.userPrompt)
	}
}

func TestAnswer_NoDocumentsSkipsModel(t *testing.T) {
	gen := &mockGenerator{}
	svc := New(&mockRetriever{}, gen, Options{}, zap.NewNop())

	a, err := svc.Answer(context.Background(), query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Answer != NoDocumentsAnswer {
		t.Errorf("unexpected answer %q", a.Answer)
	}
	if a.Chunks == nil || len(a.Chunks) != 0 || a.Citations == nil || len(a.Citations) != 0 {
		t.Errorf("expected empty non-nil chunks and citations, got %+v", a)
	}
	if gen.calls != 0 {
		t.Error("model must not be called without chunks")
	}
}

func TestAnswer_ModelFailureKeepsRetrieval(t *testing.T) {
	gen := &mockGenerator{completeErr: errors.New("upstream 500")}
	svc := New(&mockRetriever{chunks: twoDocs}, gen, Options{}, zap.NewNop())

	a, err := svc.Answer(context.Background(), query())
	if err != nil {
		t.Fatalf("model failure must not be returned as error: %v", err)
	}
	if !strings.HasPrefix(a.Answer, "Error generating answer: ") {
		t.Errorf("unexpected answer %q", a.Answer)
	}
	if !strings.Contains(a.Error, "upstream 500") {
		t.Errorf("unexpected error field %q", a.Error)
	}
	if len(a.Chunks) != 3 || len(a.Citations) != 2 {
		t.Errorf("retrieval results must be kept: %+v", a)
	}
	if a.TokensUsed != nil {
		t.Error("tokens_used must be absent on failure")
	}
}

func TestAnswer_Timeout(t *testing.T) {
	gen := &mockGenerator{waitForCtx: true}
	svc := New(&mockRetriever{chunks: twoDocs}, gen, Options{Timeout: 20 * time.Millisecond}, zap.NewNop())

	a, err := svc.Answer(context.Background(), query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(a.Error, domain.ErrGenerationProviderError.Error()) {
		t.Errorf("expected generation error, got %q", a.Error)
	}
}

func TestAnswer_RetrievalError(t *testing.T) {
	svc := New(&mockRetriever{err: domain.ErrEmbeddingProviderError}, &mockGenerator{}, Options{}, zap.NewNop())

	_, err := svc.Answer(context.Background(), query())
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

// --- Stream tests ---

func TestStream_Order(t *testing.T) {
	st := &mockStream{tokens: []string{"Paris", " is", " the capital."}}
	svc := New(&mockRetriever{chunks: twoDocs}, &mockGenerator{stream: st}, Options{}, zap.NewNop())

	ch, err := svc.Stream(context.Background(), query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := collect(t, ch)

	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != domain.EventCitations || len(events[0].Citations) != 2 {
		t.Errorf("first event must carry 2 citations, got %+v", events[0])
	}
	var text strings.Builder
	for _, ev := range events[1:4] {
		if ev.Type != domain.EventToken {
			t.Fatalf("expected token, got %+v", ev)
		}
		text.WriteString(ev.Token)
	}
	if text.String() != "Paris is the capital." {
		t.Errorf("unexpected streamed text %q", text.String())
	}
	if events[4].Type != domain.EventDone {
		t.Errorf("expected done, got %+v", events[4])
	}
	if !st.isClosed() {
		t.Error("model stream must be closed")
	}
}

func TestStream_NoDocuments(t *testing.T) {
	gen := &mockGenerator{}
	svc := New(&mockRetriever{}, gen, Options{}, zap.NewNop())

	ch, err := svc.Stream(context.Background(), query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := collect(t, ch)

	if len(events) != 2 {
		t.Fatalf("expected citations + error, got %+v", events)
	}
	if events[0].Type != domain.EventCitations || len(events[0].Citations) != 0 {
		t.Errorf("expected empty citations, got %+v", events[0])
	}
	last := events[1]
	if last.Type != domain.EventError || !errors.Is(last.Err, domain.ErrNoDocuments) || last.Message != NoDocumentsMessage {
		t.Errorf("unexpected terminal event %+v", last)
	}
	if gen.calls != 0 {
		t.Error("model must not be called without chunks")
	}
}

func TestStream_ModelFailsMidway(t *testing.T) {
	st := &mockStream{tokens: []string{"Par"}, err: errors.New("connection reset")}
	svc := New(&mockRetriever{chunks: twoDocs}, &mockGenerator{stream: st}, Options{}, zap.NewNop())

	ch, _ := svc.Stream(context.Background(), query())
	events := collect(t, ch)

	if len(events) != 3 {
		t.Fatalf("expected citations, token, error; got %+v", events)
	}
	last := events[2]
	if last.Type != domain.EventError || !errors.Is(last.Err, domain.ErrGenerationProviderError) {
		t.Errorf("unexpected terminal event %+v", last)
	}
}

func TestStream_ModelFailsToStart(t *testing.T) {
	gen := &mockGenerator{streamErr: errors.New("401")}
	svc := New(&mockRetriever{chunks: twoDocs}, gen, Options{}, zap.NewNop())

	ch, _ := svc.Stream(context.Background(), query())
	events := collect(t, ch)

	if len(events) != 2 || events[0].Type != domain.EventCitations || events[1].Type != domain.EventError {
		t.Fatalf("expected citations then error, got %+v", events)
	}
}

func TestStream_RetrievalErrorIsSingleEvent(t *testing.T) {
	svc := New(&mockRetriever{err: domain.ErrEmbeddingProviderError}, &mockGenerator{}, Options{}, zap.NewNop())

	ch, _ := svc.Stream(context.Background(), query())
	events := collect(t, ch)

	if len(events) != 1 || events[0].Type != domain.EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	if domain.ErrorKind(events[0].Err) != "embedding_error" {
		t.Errorf("unexpected kind %q", domain.ErrorKind(events[0].Err))
	}
}

func TestStream_InvalidQuery(t *testing.T) {
	svc := New(&mockRetriever{}, &mockGenerator{}, Options{}, zap.NewNop())

	if _, err := svc.Stream(context.Background(), domain.Query{UserID: "u1"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStream_ConsumerCancelClosesModelStream(t *testing.T) {
	st := &mockStream{tokens: []string{"a", "b"}, block: true}
	svc := New(&mockRetriever{chunks: twoDocs}, &mockGenerator{stream: st}, Options{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := svc.Stream(ctx, query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ev := <-ch; ev.Type != domain.EventCitations {
		t.Fatalf("expected citations, got %+v", ev)
	}
	if ev := <-ch; ev.Type != domain.EventToken {
		t.Fatalf("expected token, got %+v", ev)
	}
	cancel()

	// The producer must stop and close the channel without a terminal event being required.
	for ev := range ch {
		if ev.Type == domain.EventDone {
			t.Fatalf("unexpected done after cancel")
		}
	}
	if !st.isClosed() {
		t.Error("model stream must be closed after cancel")
	}
}

func TestStream_NoTokenAfterCancel(t *testing.T) {
	// A ready consumer and a cancelled context race in one select; repeat to cover both orders.
	for range 50 {
		ctx, cancel := context.WithCancel(context.Background())
		st := &mockStream{tokens: []string{"a", "b", "c"}, onToken: func(tok string) {
			if tok == "b" {
				cancel()
			}
		}}
		svc := New(&mockRetriever{chunks: twoDocs}, &mockGenerator{stream: st}, Options{}, zap.NewNop())

		ch, err := svc.Stream(ctx, query())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, ev := range collect(t, ch) {
			if ev.Type == domain.EventDone || (ev.Type == domain.EventToken && ev.Token != "a") {
				t.Fatalf("event after cancel: %+v", ev)
			}
		}
		cancel()
	}
}
