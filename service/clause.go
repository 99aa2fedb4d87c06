package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/c54335/contract-delivery-tracker/model"
)

var clausePattern = regexp.MustCompile(`(第[一二三四五六七八九十]+條)[\s\S]{0,20}?乙方[\s\S]{0,150}?須[於在]?[\s\S]{0,100}?(\d{1,3})[日天]內`)

// ClauseExtractor finds delivery clauses by pattern matching. It needs no
// external service and is used when no language model is configured.
type ClauseExtractor struct{}

func NewClauseExtractor() *ClauseExtractor {
	return &ClauseExtractor{}
}

// ExtractObligations returns one deliverable per "第N條 … 乙方 … 須於 … M日內" match.
// Items are named after their clause; repeated clauses get a numeric suffix.
func (e *ClauseExtractor) ExtractObligations(ctx context.Context, text string) ([]model.Deliverable, error) {
	matches := clausePattern.FindAllStringSubmatch(text, -1)

	seen := make(map[string]int)
	records := make([]model.Deliverable, 0, len(matches))
	for _, m := range matches {
		days, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}

		name := m[1] + "履約項目"
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s(%d)", name, n)
		}

		kind := model.BaselineSignDate
		if strings.Contains(m[0], "決標") {
			kind = model.BaselineAwardDate
		}

		records = append(records, model.Deliverable{
			ItemName:     name,
			BasisClause:  strings.Join(strings.Fields(m[0]), " "),
			DueText:      m[2] + "日內",
			BaselineKind: kind,
			DurationDays: &days,
		})
	}
	return records, nil
}
