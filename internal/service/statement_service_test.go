package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
)

type mockStatementLines struct {
	lines      []models.StatementLine
	writeBacks []string
}

func (m *mockStatementLines) ListStatementLines(ctx context.Context, payerID string) ([]models.StatementLine, error) {
	out := make([]models.StatementLine, len(m.lines))
	copy(out, m.lines)
	return out, nil
}

func (m *mockStatementLines) WriteBackOverdue(ctx context.Context, id string) (bool, error) {
	m.writeBacks = append(m.writeBacks, id)
	return true, nil
}

type mockPaymentLister struct {
	payments []models.Payment
}

func (m *mockPaymentLister) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	return m.payments, len(m.payments), nil
}

type memoryStatementCache struct {
	entries map[string][]byte
	hits    int
}

func (m *memoryStatementCache) Get(ctx context.Context, key string, dest interface{}) error {
	payload, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	m.hits++
	return json.Unmarshal(payload, dest)
}

func (m *memoryStatementCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = payload
	return nil
}

func newStatementService(lines *mockStatementLines, payments *mockPaymentLister, cache *memoryStatementCache) *StatementService {
	payers := &mockPayerDirectory{names: map[string]string{"g1": "Rina Wijaya"}}
	// A typed nil pointer would make the cache interface non-nil inside the
	// service, so only wrap it when a cache is actually provided.
	var store statementCache
	if cache != nil {
		store = cache
	}
	return NewStatementService(lines, payments, payers, store, time.Minute, nil, fixedClock{now: time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)}, nil)
}

func statementFixtureLines() []models.StatementLine {
	return []models.StatementLine{
		{InstallmentID: "i1", StudentName: "Adi Pratama", ClassName: "Matematika 10A", PeriodYear: 2026, PeriodMonth: 1, Amount: decimal.NewFromInt(500000), DueDate: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), Status: models.InstallmentStatusOpen},
		{InstallmentID: "i2", StudentName: "Adi Pratama", ClassName: "Matematika 10A", PeriodYear: 2026, PeriodMonth: 3, Amount: decimal.NewFromInt(500000), DueDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Status: models.InstallmentStatusPaid},
		{InstallmentID: "i3", StudentName: "Adi Pratama", ClassName: "Matematika 10A", PeriodYear: 2026, PeriodMonth: 4, Amount: decimal.NewFromInt(500000), DueDate: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), Status: models.InstallmentStatusOpen},
	}
}

func TestStatementServiceBuildTotals(t *testing.T) {
	canceled := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	lines := &mockStatementLines{lines: statementFixtureLines()}
	payments := &mockPaymentLister{payments: []models.Payment{
		{ID: "p1", PayerID: "g1", TotalAmount: decimal.NewFromInt(500000), Finalized: true},
		{ID: "p2", PayerID: "g1", TotalAmount: decimal.NewFromInt(250000), Finalized: true, CanceledAt: &canceled},
	}}
	svc := newStatementService(lines, payments, nil)

	statement, err := svc.Build(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "Rina Wijaya", statement.PayerName)

	// i1 is past due as of the clock and flips to overdue on read.
	assert.Equal(t, models.InstallmentStatusOverdue, statement.Lines[0].Status)
	assert.Equal(t, []string{"i1"}, lines.writeBacks)

	assert.True(t, statement.TotalOutstanding.Equal(decimal.NewFromInt(1000000)))
	assert.True(t, statement.TotalOverdue.Equal(decimal.NewFromInt(500000)))
	// Canceled payments do not count toward the paid total.
	assert.True(t, statement.TotalPaid.Equal(decimal.NewFromInt(500000)))
}

func TestStatementServiceBuildUsesCache(t *testing.T) {
	lines := &mockStatementLines{lines: statementFixtureLines()}
	payments := &mockPaymentLister{}
	cache := &memoryStatementCache{}
	svc := newStatementService(lines, payments, cache)

	first, err := svc.Build(context.Background(), "g1")
	require.NoError(t, err)
	second, err := svc.Build(context.Background(), "g1")
	require.NoError(t, err)

	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first.PayerID, second.PayerID)
	assert.True(t, first.TotalOutstanding.Equal(second.TotalOutstanding))
	// Only the first build touched the ledger.
	assert.Equal(t, []string{"i1"}, lines.writeBacks)
}

func TestStatementServiceBuildUnknownPayer(t *testing.T) {
	svc := newStatementService(&mockStatementLines{}, &mockPaymentLister{}, nil)

	_, err := svc.Build(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestStatementServiceExportCSV(t *testing.T) {
	lines := &mockStatementLines{lines: statementFixtureLines()}
	svc := newStatementService(lines, &mockPaymentLister{}, nil)

	payload, filename, err := svc.ExportCSV(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "statement-g1-20260315.csv", filename)

	content := string(payload)
	assert.True(t, strings.HasPrefix(content, "Student,Class,Period,Amount,Due Date,Status"))
	assert.Contains(t, content, "2026-01")
	assert.Contains(t, content, "OVERDUE")
	assert.Contains(t, content, "Total Outstanding,")
}

func TestStatementServiceExportPDF(t *testing.T) {
	lines := &mockStatementLines{lines: statementFixtureLines()}
	svc := newStatementService(lines, &mockPaymentLister{}, nil)

	payload, filename, err := svc.ExportPDF(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "statement-g1-20260315.pdf", filename)
	assert.NotEmpty(t, payload)
}
