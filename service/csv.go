package service

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/c54335/contract-delivery-tracker/model"
	"github.com/samber/lo"
)

// utf8BOM lets spreadsheet programs detect UTF-8 CSV files
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExportColumns is the fixed column order of exported tables
var ExportColumns = []string{
	"item_name",
	"basis_clause",
	"baseline_kind",
	"duration_days",
	"due_date",
	"submitted_date",
	"approved_date",
	"status",
}

var requiredImportColumns = []string{"item_name", "basis_clause", "baseline_kind", "duration_days"}

var ErrMissingColumn = errors.New("missing required column")

// WriteCSV writes rows with a BOM and a header line
func WriteCSV(w io.Writer, rows []model.Row) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(csvRecord(row)); err != nil {
			return fmt.Errorf("failed to write row %q: %w", row.ItemName, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRecord(row model.Row) []string {
	duration := ""
	if row.DurationDays != nil {
		duration = strconv.Itoa(*row.DurationDays)
	}
	basis := row.BasisClause
	if row.ExtractionFailed && row.ErrorMsg != "" {
		basis = row.ErrorMsg
	}
	return []string{
		row.ItemName,
		basis,
		string(row.BaselineKind),
		duration,
		formatISO(row.DueDate),
		formatISO(row.SubmittedDate),
		formatISO(row.ApprovedDate),
		string(row.Status),
	}
}

// ReadCSV parses an imported tracking table. Derived columns (due date,
// status) are ignored; absent date columns leave dates unset. Rows whose
// status is extraction_failed are skipped.
func ReadCSV(r io.Reader) ([]model.Deliverable, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty table: %w", ErrMissingColumn)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if missing := lo.Filter(requiredImportColumns, func(c string, _ int) bool {
		_, ok := columns[c]
		return !ok
	}); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var records []model.Deliverable
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if lo.EveryBy(record, func(v string) bool { return strings.TrimSpace(v) == "" }) {
			continue
		}
		if field(record, "status") == string(model.StatusExtractionFailed) {
			continue
		}

		rec, err := parseImportRecord(field, record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseImportRecord(field func([]string, string) string, record []string) (model.Deliverable, error) {
	rec := model.Deliverable{
		ItemName:    field(record, "item_name"),
		BasisClause: field(record, "basis_clause"),
	}

	kind, err := model.ParseBaselineKind(field(record, "baseline_kind"))
	if err != nil {
		return rec, err
	}
	rec.BaselineKind = kind

	if v := field(record, "duration_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return rec, fmt.Errorf("invalid duration_days %q: %w", v, err)
		}
		rec.DurationDays = &n
	}

	for name, dst := range map[string]**time.Time{
		"submitted_date": &rec.SubmittedDate,
		"approved_date":  &rec.ApprovedDate,
	} {
		v := field(record, name)
		if v == "" {
			continue
		}
		d, err := ParseDate(v)
		if err != nil {
			return rec, fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = &d
	}
	return rec, nil
}
