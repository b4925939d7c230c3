package chi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/domain"
	healthuc "github.com/kailas-cloud/ragvault/internal/usecase/health"
)

type mockIngester struct {
	upload  domain.Upload
	receipt domain.Receipt
	err     error
}

func (m *mockIngester) Ingest(ctx context.Context, u domain.Upload) (domain.Receipt, error) {
	m.upload = u
	if m.err != nil {
		return domain.Receipt{}, m.err
	}
	domain.UsageFromContext(ctx).AddEmbeddingTokens(12)
	return m.receipt, nil
}

type mockAnswerer struct {
	query     domain.Query
	answer    domain.Answer
	answerErr error
	events    []domain.Event
	streamErr error
}

func (m *mockAnswerer) Answer(ctx context.Context, q domain.Query) (domain.Answer, error) {
	m.query = q
	if m.answerErr != nil {
		return domain.Answer{}, m.answerErr
	}
	if m.answer.TokensUsed != nil {
		domain.UsageFromContext(ctx).AddGenerationTokens(*m.answer.TokensUsed)
	}
	return m.answer, nil
}

func (m *mockAnswerer) Stream(_ context.Context, q domain.Query) (<-chan domain.Event, error) {
	m.query = q
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	ch := make(chan domain.Event, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type mockPreviewer struct {
	documentID, userID, filename string
	preview                      domain.Preview
	err                          error
}

func (m *mockPreviewer) Preview(_ context.Context, documentID, userID, filename string) (domain.Preview, error) {
	m.documentID, m.userID, m.filename = documentID, userID, filename
	return m.preview, m.err
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

type fixture struct {
	ingest  *mockIngester
	answers *mockAnswerer
	docs    *mockPreviewer
	health  *mockHealth
	server  *Server
}

func newFixture() *fixture {
	f := &fixture{
		ingest:  &mockIngester{},
		answers: &mockAnswerer{},
		docs:    &mockPreviewer{},
		health:  &mockHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}},
	}
	f.server = NewServer(f.ingest, f.answers, f.docs, f.health, zap.NewNop())
	return f
}

func (f *fixture) handler(apiKeys ...string) http.Handler {
	return NewRouter(f.server, apiKeys, zap.NewNop())
}
