package service

import (
	"errors"
	"reflect"
	"testing"

	"github.com/c54335/contract-delivery-tracker/config"
	"github.com/c54335/contract-delivery-tracker/model"
)

func TestInterpretCompleteSentence(t *testing.T) {
	in := NewInterpreter(nil)

	update, err := in.Interpret("我3/15送出期中報告", []string{"期中報告", "期末報告"}, 2024)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if update.Action != model.ActionSubmitted {
		t.Errorf("Expected action %s, got %s", model.ActionSubmitted, update.Action)
	}
	if update.Date.Format("2006-01-02") != "2024-03-15" {
		t.Errorf("Expected date 2024-03-15, got %s", update.Date.Format("2006-01-02"))
	}
	if update.ItemName != "期中報告" {
		t.Errorf("Expected item 期中報告, got %s", update.ItemName)
	}
	if update.Sentence != "我3/15送出期中報告" {
		t.Errorf("Expected sentence to be kept, got %s", update.Sentence)
	}
}

func TestInterpretApproval(t *testing.T) {
	in := NewInterpreter(nil)

	update, err := in.Interpret("3/20已核定期末設計", []string{"期末設計"}, 2024)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if update.Action != model.ActionApproved {
		t.Errorf("Expected action %s, got %s", model.ActionApproved, update.Action)
	}
	if update.Date.Format("01-02") != "03-20" {
		t.Errorf("Expected 03-20, got %s", update.Date.Format("01-02"))
	}
}

func TestInterpretPartialFailure(t *testing.T) {
	in := NewInterpreter(nil)

	_, err := in.Interpret("3/15 天氣晴朗", []string{"期中報告"}, 2024)
	var interpErr *InterpretationError
	if !errors.As(err, &interpErr) {
		t.Fatalf("Expected *InterpretationError, got %v", err)
	}
	expected := []Piece{PieceAction, PieceItem}
	if !reflect.DeepEqual(interpErr.Missing, expected) {
		t.Errorf("Expected missing %v, got %v", expected, interpErr.Missing)
	}
	if interpErr.Has(PieceDate) {
		t.Error("Date should not be reported missing")
	}
}

// Every combination of present/absent action, date and item must report
// exactly the absent pieces.
func TestInterpretFailureAxes(t *testing.T) {
	in := NewInterpreter(nil)
	known := []string{"期中報告", "期末報告", "Interim Report"}

	actions := []string{"送出", "提交", "核定", "通過", "submitted", "APPROVED"}
	dates := []string{"3/15", "3月15日", "3.15", "12／1", "1/31"}
	items := []string{"期中報告", "期末報告", "Interim Report"}

	for _, action := range append(actions, "") {
		for _, date := range append(dates, "") {
			for _, item := range append(items, "") {
				sentence := "我" + date + " " + action + " " + item + "了"

				var expected []Piece
				if action == "" {
					expected = append(expected, PieceAction)
				}
				if date == "" {
					expected = append(expected, PieceDate)
				}
				if item == "" {
					expected = append(expected, PieceItem)
				}

				update, err := in.Interpret(sentence, known, 2024)
				if len(expected) == 0 {
					if err != nil {
						t.Errorf("%q: unexpected error: %v", sentence, err)
						continue
					}
					if update.ItemName != item {
						t.Errorf("%q: expected item %q, got %q", sentence, item, update.ItemName)
					}
					continue
				}

				var interpErr *InterpretationError
				if !errors.As(err, &interpErr) {
					t.Errorf("%q: expected *InterpretationError, got %v", sentence, err)
					continue
				}
				if !reflect.DeepEqual(interpErr.Missing, expected) {
					t.Errorf("%q: expected missing %v, got %v", sentence, expected, interpErr.Missing)
				}
			}
		}
	}
}

func TestInterpretDateForms(t *testing.T) {
	in := NewInterpreter(nil)
	known := []string{"期中報告"}

	tests := []struct {
		sentence string
		expected string
	}{
		{"3月15日送出期中報告", "2024-03-15"},
		{"3.15提交期中報告", "2024-03-15"},
		{"3／5送出期中報告", "2024-03-05"},
		{"11 / 2 送出期中報告", "2024-11-02"},
		{"2023/3/15送出期中報告", "2024-03-15"},
		{"3/15送出期中報告，4/1核定", "2024-03-15"},
	}

	for _, tt := range tests {
		t.Run(tt.sentence, func(t *testing.T) {
			update, err := in.Interpret(tt.sentence, known, 2024)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got := update.Date.Format("2006-01-02"); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestInterpretNoDate(t *testing.T) {
	in := NewInterpreter(nil)

	for _, sentence := range []string{"今天送出期中報告", "送出期中報告第123號", "315送出期中報告"} {
		_, err := in.Interpret(sentence, []string{"期中報告"}, 2024)
		var interpErr *InterpretationError
		if !errors.As(err, &interpErr) {
			t.Fatalf("%q: expected *InterpretationError, got %v", sentence, err)
		}
		if !reflect.DeepEqual(interpErr.Missing, []Piece{PieceDate}) {
			t.Errorf("%q: expected only date missing, got %v", sentence, interpErr.Missing)
		}
	}
}

func TestInterpretInvalidDate(t *testing.T) {
	in := NewInterpreter(nil)

	_, err := in.Interpret("2/30送出期中報告", []string{"期中報告"}, 2024)
	if !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("Expected ErrInvalidDate, got %v", err)
	}

	_, err = in.Interpret("13/1送出期中報告", []string{"期中報告"}, 2024)
	if !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("Expected ErrInvalidDate for month 13, got %v", err)
	}
}

func TestInterpretSubmitTakesPrecedence(t *testing.T) {
	in := NewInterpreter(nil)

	update, err := in.Interpret("3/15送出並核定期中報告", []string{"期中報告"}, 2024)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if update.Action != model.ActionSubmitted {
		t.Errorf("Expected %s, got %s", model.ActionSubmitted, update.Action)
	}
}

// Keyword characters inside an item name do not decide the action.
func TestInterpretKeywordsInsideItemName(t *testing.T) {
	in := NewInterpreter(nil)
	known := []string{"交通維持計畫", "提送計畫書"}

	tests := []struct {
		sentence string
		item     string
		action   model.Action
	}{
		{"3/20核定交通維持計畫", "交通維持計畫", model.ActionApproved},
		{"3/20已通過提送計畫書", "提送計畫書", model.ActionApproved},
		{"3/18送出交通維持計畫", "交通維持計畫", model.ActionSubmitted},
		{"3/18提交提送計畫書", "提送計畫書", model.ActionSubmitted},
	}

	for _, tt := range tests {
		t.Run(tt.sentence, func(t *testing.T) {
			update, err := in.Interpret(tt.sentence, known, 2024)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if update.ItemName != tt.item {
				t.Errorf("Expected item %s, got %s", tt.item, update.ItemName)
			}
			if update.Action != tt.action {
				t.Errorf("Expected action %s, got %s", tt.action, update.Action)
			}
		})
	}

	_, err := in.Interpret("3/20 交通維持計畫", known, 2024)
	var interpErr *InterpretationError
	if !errors.As(err, &interpErr) || !reflect.DeepEqual(interpErr.Missing, []Piece{PieceAction}) {
		t.Errorf("Expected only action missing, got %v", err)
	}
}

func TestInterpretEnglishKeywords(t *testing.T) {
	in := NewInterpreter(nil)

	update, err := in.Interpret("Submitted Interim Report on 3/15", []string{"Interim Report"}, 2024)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if update.Action != model.ActionSubmitted {
		t.Errorf("Expected %s, got %s", model.ActionSubmitted, update.Action)
	}

	update, err = in.Interpret("Interim Report approved 4/2", []string{"Interim Report"}, 2024)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if update.Action != model.ActionApproved {
		t.Errorf("Expected %s, got %s", model.ActionApproved, update.Action)
	}
}

func TestInterpretItemContainment(t *testing.T) {
	in := NewInterpreter(nil)

	update, err := in.Interpret("3/20送出期末報告修正版", []string{"期末報告", "期末報告修正版"}, 2024)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if update.ItemName != "期末報告修正版" {
		t.Errorf("Expected longest containing item, got %s", update.ItemName)
	}
}

func TestInterpretAmbiguousItems(t *testing.T) {
	in := NewInterpreter(nil)
	known := []string{"期中報告", "期末報告", "工作計畫書"}

	_, err := in.Interpret("3/20送出期中報告及工作計畫書", known, 2024)
	var ambErr *AmbiguousItemError
	if !errors.As(err, &ambErr) {
		t.Fatalf("Expected *AmbiguousItemError, got %v", err)
	}
	expected := []string{"期中報告", "工作計畫書"}
	if !reflect.DeepEqual(ambErr.Candidates, expected) {
		t.Errorf("Expected candidates %v, got %v", expected, ambErr.Candidates)
	}

	// Missing pieces are reported before ambiguity
	_, err = in.Interpret("送出期中報告及工作計畫書", known, 2024)
	var interpErr *InterpretationError
	if !errors.As(err, &interpErr) {
		t.Fatalf("Expected *InterpretationError, got %v", err)
	}
}

func TestInterpretIgnoresEmptyKnownItems(t *testing.T) {
	in := NewInterpreter(nil)

	_, err := in.Interpret("3/15送出報告", []string{"", "期中報告"}, 2024)
	var interpErr *InterpretationError
	if !errors.As(err, &interpErr) || !interpErr.Has(PieceItem) {
		t.Fatalf("Expected missing item, got %v", err)
	}
}

func TestNewInterpreterCustomKeywords(t *testing.T) {
	in := NewInterpreter(&config.TrackerConfig{
		SubmitKeywords:  []string{" Filed ", ""},
		ApproveKeywords: []string{"accepted"},
	})

	update, err := in.Interpret("filed 期中報告 5/6", []string{"期中報告"}, 2024)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if update.Action != model.ActionSubmitted {
		t.Errorf("Expected %s, got %s", model.ActionSubmitted, update.Action)
	}

	// Default keywords are replaced, not extended
	_, err = in.Interpret("5/6送出期中報告", []string{"期中報告"}, 2024)
	var interpErr *InterpretationError
	if !errors.As(err, &interpErr) || !interpErr.Has(PieceAction) {
		t.Errorf("Expected missing action with custom keywords, got %v", err)
	}
}

func TestInterpretationErrorMessage(t *testing.T) {
	err := &InterpretationError{Missing: []Piece{PieceAction, PieceItem}}
	if err.Error() != "cannot interpret sentence: missing action, item" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
