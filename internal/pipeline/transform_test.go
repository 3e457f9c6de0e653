package pipeline

import (
	"reflect"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name string
		in   *AmountValue
		want float64
	}{
		{"absent", nil, 0},
		{"number", NumberAmount(12.4), 12.4},
		{"negative number", NumberAmount(-5), 0},
		{"currency text", TextAmount("$1,234.56"), 1234.56},
		{"plain text", TextAmount("45.50"), 45.5},
		{"letters only", TextAmount("abc"), 0},
		{"negative text", TextAmount("-12.00"), 0},
		{"negative after symbol", TextAmount("$-3"), 0},
		{"two decimal points", TextAmount("1.2.3"), 0},
		{"leading point", TextAmount(".5"), 0.5},
		{"empty", TextAmount(""), 0},
		{"exponent text", TextAmount("1e400"), 0},
		{"exponent with sign", TextAmount("2.5E-3"), 0},
		{"currency code", TextAmount("12.50 EUR"), 12.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeAmount(tt.in); got != tt.want {
				t.Errorf("NormalizeAmount(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"food", CategoryFood},
		{"  TRAVEL ", CategoryTravel},
		{"Healthcare", CategoryHealthcare},
		{"Groceries", CategoryOthers},
		{"", CategoryOthers},
		{"others", CategoryOthers},
	}

	for _, tt := range tests {
		if got := CanonicalCategory(tt.in); got != tt.want {
			t.Errorf("CanonicalCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizer_Date(t *testing.T) {
	n := NewNormalizer(fixedClock)

	tests := []struct {
		name string
		in   *string
		want string
	}{
		{"iso date", strPtr("2024-03-01"), "2024-03-01"},
		{"rfc3339", strPtr("2024-03-01T14:22:00Z"), "2024-03-01"},
		{"local timestamp", strPtr("2024-03-01T14:22:00"), "2024-03-01"},
		{"absent", nil, "2024-06-15"},
		{"null text", strPtr("null"), "2024-06-15"},
		{"free text", strPtr("March 1st"), "2024-06-15"},
		{"impossible date", strPtr("2024-02-31"), "2024-06-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(ModeSingleReceipt, CandidateTransaction{Date: tt.in})
			if got.Date != tt.want {
				t.Errorf("date = %q, want %q", got.Date, tt.want)
			}
		})
	}
}

func TestNormalizer_Type(t *testing.T) {
	n := NewNormalizer(fixedClock)

	tests := []struct {
		name string
		mode Mode
		in   *string
		want string
	}{
		{"batch income", ModeHistoryBatch, strPtr("income"), TypeIncome},
		{"batch income upper", ModeHistoryBatch, strPtr(" INCOME "), TypeIncome},
		{"batch expense", ModeHistoryBatch, strPtr("expense"), TypeExpense},
		{"batch unknown", ModeHistoryBatch, strPtr("refund"), TypeExpense},
		{"batch absent", ModeHistoryBatch, nil, TypeExpense},
		{"single ignores income", ModeSingleReceipt, strPtr("income"), TypeExpense},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.mode, CandidateTransaction{Type: tt.in})
			if got.Type != tt.want {
				t.Errorf("type = %q, want %q", got.Type, tt.want)
			}
		})
	}
}

func TestNormalizer_TitleAndDescription(t *testing.T) {
	n := NewNormalizer(fixedClock)

	tests := []struct {
		name     string
		mode     Mode
		in       CandidateTransaction
		wantT    string
		wantDesc string
	}{
		{
			name:     "receipt with vendor only",
			mode:     ModeSingleReceipt,
			in:       CandidateTransaction{Vendor: strPtr("Cafe X")},
			wantT:    "Cafe X",
			wantDesc: "Purchase at Cafe X",
		},
		{
			name:     "receipt with nothing",
			mode:     ModeSingleReceipt,
			in:       CandidateTransaction{},
			wantT:    PlaceholderReceiptTitle,
			wantDesc: "",
		},
		{
			name:     "receipt keeps given values",
			mode:     ModeSingleReceipt,
			in:       CandidateTransaction{Vendor: strPtr("Cafe X"), Title: strPtr("Lunch"), Description: strPtr("Team lunch")},
			wantT:    "Lunch",
			wantDesc: "Team lunch",
		},
		{
			name:     "history row without title",
			mode:     ModeHistoryBatch,
			in:       CandidateTransaction{Title: strPtr("   ")},
			wantT:    PlaceholderTransactionTitle,
			wantDesc: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.mode, tt.in)
			if got.Title != tt.wantT {
				t.Errorf("title = %q, want %q", got.Title, tt.wantT)
			}
			if got.Description != tt.wantDesc {
				t.Errorf("description = %q, want %q", got.Description, tt.wantDesc)
			}
		})
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	n := NewNormalizer(fixedClock)

	candidates := []CandidateTransaction{
		{},
		{Vendor: strPtr("Cafe X"), Amount: TextAmount("$12.40"), Category: strPtr("food"), Items: []string{" latte ", ""}},
		{Title: strPtr("Salary"), Amount: NumberAmount(2500), Type: strPtr("Income"), Date: strPtr("2024-05-31T09:00:00Z")},
		{Amount: NumberAmount(-3), Category: strPtr("Groceries"), Description: strPtr("null")},
	}

	for _, mode := range []Mode{ModeSingleReceipt, ModeHistoryBatch} {
		for i, c := range candidates {
			first := n.Normalize(mode, c)
			second := n.Normalize(mode, first.Candidate())
			if !reflect.DeepEqual(first, second) {
				t.Errorf("%s candidate %d: normalize twice = %+v, want %+v", mode, i, second, first)
			}
		}
	}
}

func TestNormalizer_FullRecord(t *testing.T) {
	n := NewNormalizer(fixedClock)

	got := n.Normalize(ModeSingleReceipt, CandidateTransaction{
		Vendor:   strPtr("Cafe X"),
		Amount:   TextAmount("12.40"),
		Date:     strPtr("2024-03-01"),
		Category: strPtr("food"),
		Items:    []string{"latte", "bagel"},
	})

	want := ValidatedTransaction{
		Title:       "Cafe X",
		Amount:      12.4,
		Date:        "2024-03-01",
		Category:    CategoryFood,
		Type:        TypeExpense,
		Description: "Purchase at Cafe X",
		Vendor:      "Cafe X",
		Items:       []string{"latte", "bagel"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize = %+v, want %+v", got, want)
	}
}

func TestIsPlaceholder(t *testing.T) {
	n := NewNormalizer(fixedClock)

	if !IsPlaceholder(n.Normalize(ModeSingleReceipt, CandidateTransaction{Date: strPtr("2024-01-01")})) {
		t.Error("expected a record with only a date to be a placeholder")
	}
	if IsPlaceholder(n.Normalize(ModeSingleReceipt, CandidateTransaction{Amount: NumberAmount(3)})) {
		t.Error("expected a record with an amount not to be a placeholder")
	}
}
