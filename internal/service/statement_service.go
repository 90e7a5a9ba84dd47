package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
	appErrors "github.com/dimasfr/bimbel-admin-api/pkg/errors"
	"github.com/dimasfr/bimbel-admin-api/pkg/export"
)

type statementLineReader interface {
	ListStatementLines(ctx context.Context, payerID string) ([]models.StatementLine, error)
	WriteBackOverdue(ctx context.Context, id string) (bool, error)
}

type paymentLister interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
}

type statementCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type statementMetrics interface {
	CacheHit()
	CacheMiss()
}

// StatementService assembles a payer's billing statement: every installment
// the payer is responsible for plus the payments on file. Statements are
// cached per payer and invalidated by the services that change the numbers.
type StatementService struct {
	installments statementLineReader
	payments     paymentLister
	payers       payerDirectory
	cache        statementCache
	cacheTTL     time.Duration
	metrics      statementMetrics
	csv          *export.CSVExporter
	pdf          *export.PDFExporter
	clock        Clock
	logger       *zap.Logger
}

// NewStatementService constructs StatementService.
func NewStatementService(installments statementLineReader, payments paymentLister, payers payerDirectory, cache statementCache, cacheTTL time.Duration, metrics statementMetrics, clock Clock, logger *zap.Logger) *StatementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &StatementService{
		installments: installments,
		payments:     payments,
		payers:       payers,
		cache:        cache,
		cacheTTL:     cacheTTL,
		metrics:      metrics,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
		clock:        clock,
		logger:       logger,
	}
}

// Build assembles the statement for a payer. Line statuses are derived as of
// today, so an installment that went overdue since the last read shows
// overdue here too.
func (s *StatementService) Build(ctx context.Context, payerID string) (*models.BillingStatement, error) {
	if s.cache != nil {
		var cached models.BillingStatement
		if err := s.cache.Get(ctx, statementCacheKey(payerID), &cached); err == nil {
			if s.metrics != nil {
				s.metrics.CacheHit()
			}
			return &cached, nil
		}
		if s.metrics != nil {
			s.metrics.CacheMiss()
		}
	}

	name, err := s.payers.ResolvePayerName(ctx, payerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payer")
	}

	lines, err := s.installments.ListStatementLines(ctx, payerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list statement lines")
	}

	now := s.clock.Now()
	statement := &models.BillingStatement{
		PayerID:     payerID,
		PayerName:   name,
		GeneratedAt: now,
	}
	for i := range lines {
		derived := models.DeriveInstallmentStatus(lines[i].Status, lines[i].DueDate, now)
		if derived != lines[i].Status {
			lines[i].Status = derived
			if _, err := s.installments.WriteBackOverdue(ctx, lines[i].InstallmentID); err != nil {
				s.logger.Warn("overdue write-back failed", zap.String("installment_id", lines[i].InstallmentID), zap.Error(err))
			}
		}
		switch lines[i].Status {
		case models.InstallmentStatusOpen:
			statement.TotalOutstanding = statement.TotalOutstanding.Add(lines[i].Amount)
		case models.InstallmentStatusOverdue:
			statement.TotalOutstanding = statement.TotalOutstanding.Add(lines[i].Amount)
			statement.TotalOverdue = statement.TotalOverdue.Add(lines[i].Amount)
		}
	}
	statement.Lines = lines

	finalized := true
	payments, _, err := s.payments.List(ctx, models.PaymentFilter{PayerID: payerID, Finalized: &finalized, PageSize: 100})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	for _, p := range payments {
		if p.CanceledAt != nil {
			continue
		}
		statement.TotalPaid = statement.TotalPaid.Add(p.TotalAmount)
	}
	statement.Payments = payments

	if s.cache != nil {
		if err := s.cache.Set(ctx, statementCacheKey(payerID), statement, s.cacheTTL); err != nil {
			s.logger.Warn("statement cache write failed", zap.String("payer_id", payerID), zap.Error(err))
		}
	}
	return statement, nil
}

// ExportCSV renders the statement lines as CSV.
func (s *StatementService) ExportCSV(ctx context.Context, payerID string) ([]byte, string, error) {
	statement, err := s.Build(ctx, payerID)
	if err != nil {
		return nil, "", err
	}
	payload, err := s.csv.Render(statementDataset(statement))
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return payload, statementFilename(statement, "csv"), nil
}

// ExportPDF renders the statement as a PDF document.
func (s *StatementService) ExportPDF(ctx context.Context, payerID string) ([]byte, string, error) {
	statement, err := s.Build(ctx, payerID)
	if err != nil {
		return nil, "", err
	}
	title := fmt.Sprintf("Billing Statement - %s", statement.PayerName)
	payload, err := s.pdf.Render(statementDataset(statement), title)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	return payload, statementFilename(statement, "pdf"), nil
}

func statementDataset(statement *models.BillingStatement) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{"Student", "Class", "Period", "Amount", "Due Date", "Status"},
	}
	for _, line := range statement.Lines {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student":  line.StudentName,
			"Class":    line.ClassName,
			"Period":   fmt.Sprintf("%04d-%02d", line.PeriodYear, line.PeriodMonth),
			"Amount":   line.Amount.StringFixed(2),
			"Due Date": line.DueDate.Format("2006-01-02"),
			"Status":   string(line.Status),
		})
	}
	dataset.Summary = []export.SummaryLine{
		{Label: "Total Outstanding", Value: statement.TotalOutstanding.StringFixed(2)},
		{Label: "Total Overdue", Value: statement.TotalOverdue.StringFixed(2)},
		{Label: "Total Paid", Value: statement.TotalPaid.StringFixed(2)},
	}
	return dataset
}

func statementFilename(statement *models.BillingStatement, ext string) string {
	return fmt.Sprintf("statement-%s-%s.%s", statement.PayerID, statement.GeneratedAt.Format("20060102"), ext)
}
