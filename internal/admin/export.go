package admin

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"github.com/coursehub-app/coursehub-backend/internal/payments"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
)

// ExportFormat selects the serialization for a transaction export.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"

	// exportPageSize bounds each repository read while streaming.
	exportPageSize = 500
)

// ParseExportFormat validates a requested export format.
func ParseExportFormat(value string) (ExportFormat, error) {
	switch ExportFormat(value) {
	case ExportCSV, "":
		return ExportCSV, nil
	case ExportJSON:
		return ExportJSON, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "export format must be csv or json")
	}
}

// ContentType returns the response content type for the format.
func (f ExportFormat) ContentType() string {
	if f == ExportJSON {
		return "application/json"
	}
	return "text/csv"
}

var exportHeader = []string{
	"id", "user_id", "course_id", "provider", "status", "amount",
	"currency", "refunded_amount", "transaction_id", "invoice_number",
	"created_at", "completed_at",
}

// Export streams every payment matching the query to w, following the
// cursor until the listing is exhausted so exports are not capped at
// one page.
func (s *Service) Export(ctx context.Context, query payments.ListQuery, format ExportFormat, w io.Writer) error {
	query.Limit = exportPageSize
	query.Cursor = nil

	switch format {
	case ExportJSON:
		return s.exportJSON(ctx, query, w)
	default:
		return s.exportCSV(ctx, query, w)
	}
}

func (s *Service) exportCSV(ctx context.Context, query payments.ListQuery, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	err := s.eachPage(ctx, query, func(page []models.Payment) error {
		for i := range page {
			if err := cw.Write(exportRow(&page[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func (s *Service) exportJSON(ctx context.Context, query payments.ListQuery, w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	first := true
	err := s.eachPage(ctx, query, func(page []models.Payment) error {
		for i := range page {
			if !first {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			first = false
			if err := enc.Encode(page[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "]")
	return err
}

func (s *Service) eachPage(ctx context.Context, query payments.ListQuery, fn func([]models.Payment) error) error {
	for {
		page, next, err := s.payments.List(ctx, query)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments for export")
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if next == nil {
			return nil
		}
		query.Cursor = next
	}
}

func exportRow(p *models.Payment) []string {
	return []string{
		p.ID.String(),
		p.UserID.String(),
		p.CourseID.String(),
		string(p.Provider),
		string(p.Status),
		p.Amount.StringFixed(2),
		string(p.Currency),
		p.RefundedAmount.StringFixed(2),
		stringValue(p.TransactionID),
		stringValue(p.InvoiceNumber),
		p.CreatedAt.UTC().Format(time.RFC3339),
		timeValue(p.CompletedAt),
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
