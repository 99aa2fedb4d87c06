package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/c54335/contract-delivery-tracker/model"
	"github.com/c54335/contract-delivery-tracker/pkg/logger"
)

var ErrExtraction = errors.New("extraction failed")

// ExtractionError wraps a collaborator failure during contract intake
type ExtractionError struct {
	Stage string // "text" or "obligations"
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// Document is an uploaded contract file
type Document struct {
	Tenant      string
	SessionID   string
	Filename    string
	ContentType string
	Data        []byte
}

// TextExtractor turns a binary contract into plain text
type TextExtractor interface {
	ExtractText(ctx context.Context, doc Document) (string, error)
}

// ObligationExtractor derives deliverable records from contract text. On
// unparseable output it returns a single record with ExtractionFailed set
// instead of an error.
type ObligationExtractor interface {
	ExtractObligations(ctx context.Context, text string) ([]model.Deliverable, error)
}

// Intake runs the two extraction collaborators for an uploaded contract
type Intake struct {
	text        TextExtractor
	obligations ObligationExtractor
}

func NewIntake(text TextExtractor, obligations ObligationExtractor) *Intake {
	return &Intake{text: text, obligations: obligations}
}

// FromDocument extracts deliverables from a binary contract
func (in *Intake) FromDocument(ctx context.Context, doc Document) ([]model.Deliverable, error) {
	if in.text == nil {
		return nil, &ExtractionError{Stage: "text", Err: errors.New("no document extractor configured")}
	}
	text, err := in.text.ExtractText(ctx, doc)
	if err != nil {
		return nil, &ExtractionError{Stage: "text", Err: err}
	}
	logger.Info(ctx, "contract text extracted", "filename", doc.Filename, "chars", len([]rune(text)))
	return in.FromText(ctx, text)
}

// FromText extracts deliverables from already-extracted contract text
func (in *Intake) FromText(ctx context.Context, text string) ([]model.Deliverable, error) {
	records, err := in.obligations.ExtractObligations(ctx, text)
	if err != nil {
		return nil, &ExtractionError{Stage: "obligations", Err: err}
	}
	logger.Info(ctx, "obligations extracted", "records", len(records))
	return records, nil
}

// failedExtraction is the sentinel record for unparseable collaborator output
func failedExtraction(reason string) []model.Deliverable {
	return []model.Deliverable{{
		ItemName:         "extraction failed",
		ExtractionFailed: true,
		ErrorMsg:         reason,
	}}
}
