package service

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/c54335/contract-delivery-tracker/config"
	"github.com/c54335/contract-delivery-tracker/model"
	"github.com/samber/lo"
)

// Piece is one of the three parts a progress sentence must carry
type Piece string

const (
	PieceAction Piece = "action"
	PieceDate   Piece = "date"
	PieceItem   Piece = "item"
)

var (
	DefaultSubmitKeywords  = []string{"送", "提交", "交", "提", "submit", "send", "sent", "deliver"}
	DefaultApproveKeywords = []string{"核", "通過", "approve", "pass"}
)

// A month/day pair such as 3/15, 3.15 or 3月15, not embedded in a longer number.
var sentenceDatePattern = regexp.MustCompile(`(?:^|[^0-9])([0-9]{1,2})\s*(?:/|\.|月|／|．)\s*([0-9]{1,2})(?:[^0-9]|$)`)

// InterpretationError lists the pieces a sentence was missing
type InterpretationError struct {
	Sentence string
	Missing  []Piece
}

func (e *InterpretationError) Error() string {
	names := lo.Map(e.Missing, func(p Piece, _ int) string { return string(p) })
	return "cannot interpret sentence: missing " + strings.Join(names, ", ")
}

// Has reports whether p is among the missing pieces
func (e *InterpretationError) Has(p Piece) bool {
	return lo.Contains(e.Missing, p)
}

// AmbiguousItemError is returned when several known items match and none of
// them contains all the others.
type AmbiguousItemError struct {
	Candidates []string
}

func (e *AmbiguousItemError) Error() string {
	return fmt.Sprintf("sentence matches more than one item: %s", strings.Join(e.Candidates, ", "))
}

// Interpreter turns free-text progress sentences into updates
type Interpreter struct {
	submitKeywords  []string
	approveKeywords []string
}

func NewInterpreter(cfg *config.TrackerConfig) *Interpreter {
	in := &Interpreter{
		submitKeywords:  DefaultSubmitKeywords,
		approveKeywords: DefaultApproveKeywords,
	}
	if cfg != nil {
		if len(cfg.SubmitKeywords) > 0 {
			in.submitKeywords = cfg.SubmitKeywords
		}
		if len(cfg.ApproveKeywords) > 0 {
			in.approveKeywords = cfg.ApproveKeywords
		}
	}
	in.submitKeywords = normalizeKeywords(in.submitKeywords)
	in.approveKeywords = normalizeKeywords(in.approveKeywords)
	return in
}

func normalizeKeywords(keywords []string) []string {
	out := lo.Map(keywords, func(k string, _ int) string { return strings.ToLower(strings.TrimSpace(k)) })
	return lo.Compact(out)
}

// Interpret parses sentence into an update against knownItems. The date is
// resolved in referenceYear.
func (in *Interpreter) Interpret(sentence string, knownItems []string, referenceYear int) (model.Update, error) {
	matches := matchItems(sentence, knownItems)
	action, hasAction := in.classifyAction(withoutItems(sentence, matches))
	month, day, hasDate := extractMonthDay(sentence)

	var missing []Piece
	if !hasAction {
		missing = append(missing, PieceAction)
	}
	if !hasDate {
		missing = append(missing, PieceDate)
	}
	if len(matches) == 0 {
		missing = append(missing, PieceItem)
	}
	if len(missing) > 0 {
		return model.Update{}, &InterpretationError{Sentence: sentence, Missing: missing}
	}

	item, err := pickItem(matches)
	if err != nil {
		return model.Update{}, err
	}

	date, err := ResolveDate(month, day, referenceYear)
	if err != nil {
		return model.Update{}, err
	}

	return model.Update{
		Action:   action,
		Date:     date,
		ItemName: item,
		Sentence: sentence,
	}, nil
}

// withoutItems blanks out the matched item names so that keyword characters
// inside a name (交通維持計畫, 提送計畫書) are not read as the action.
func withoutItems(sentence string, matches []string) string {
	byLength := append([]string(nil), matches...)
	sort.SliceStable(byLength, func(i, j int) bool { return len(byLength[i]) > len(byLength[j]) })
	for _, item := range byLength {
		sentence = strings.ReplaceAll(sentence, item, " ")
	}
	return sentence
}

// classifyAction checks submission keywords before approval keywords
func (in *Interpreter) classifyAction(sentence string) (model.Action, bool) {
	lower := strings.ToLower(sentence)
	mentions := func(keywords []string) bool {
		return lo.SomeBy(keywords, func(k string) bool { return strings.Contains(lower, k) })
	}

	if mentions(in.submitKeywords) {
		return model.ActionSubmitted, true
	}
	if mentions(in.approveKeywords) {
		return model.ActionApproved, true
	}
	return "", false
}

// extractMonthDay returns the first month/day pair in sentence
func extractMonthDay(sentence string) (month, day int, ok bool) {
	m := sentenceDatePattern.FindStringSubmatch(sentence)
	if m == nil {
		return 0, 0, false
	}
	month, _ = strconv.Atoi(m[1])
	day, _ = strconv.Atoi(m[2])
	return month, day, true
}

func matchItems(sentence string, knownItems []string) []string {
	matches := lo.Filter(knownItems, func(item string, _ int) bool {
		return item != "" && strings.Contains(sentence, item)
	})
	return lo.Uniq(matches)
}

// pickItem resolves several substring matches: the longest match wins when it
// contains every other match, otherwise the sentence is ambiguous.
func pickItem(matches []string) (string, error) {
	if len(matches) == 1 {
		return matches[0], nil
	}
	longest := lo.MaxBy(matches, func(a, b string) bool { return len(a) > len(b) })
	if lo.EveryBy(matches, func(m string) bool { return strings.Contains(longest, m) }) {
		return longest, nil
	}
	return "", &AmbiguousItemError{Candidates: matches}
}
