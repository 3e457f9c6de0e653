package pipeline

import (
	"strconv"
	"time"
)

// Mode selects the prompt and the expected output shape of an extraction.
type Mode string

const (
	// ModeSingleReceipt expects one JSON object describing one purchase.
	ModeSingleReceipt Mode = "receipt"
	// ModeHistoryBatch expects a JSON array with one object per row.
	ModeHistoryBatch Mode = "history"
)

// ParseMode maps a user supplied mode name onto a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeSingleReceipt, ModeHistoryBatch:
		return Mode(s), true
	}
	return "", false
}

// UploadedDocument is the file a user submitted for one request.
type UploadedDocument struct {
	Content  []byte
	MIMEType string
	Filename string
}

// StoredDocument is the handle of a document held by a DocumentStore.
type StoredDocument struct {
	Key      string
	MIMEType string
	Filename string
	Size     int64
}

// RawModelResponse is the unmodified text returned by the model.
type RawModelResponse struct {
	Text         string
	Model        string
	TokensInput  int64
	TokensOutput int64
	Latency      time.Duration
}

// AmountValue is an amount as the model emitted it: a JSON number or free text.
type AmountValue struct {
	Number   float64
	Text     string
	IsNumber bool
}

// NumberAmount returns an AmountValue holding a number.
func NumberAmount(f float64) *AmountValue {
	return &AmountValue{Number: f, IsNumber: true}
}

// TextAmount returns an AmountValue holding free text.
func TextAmount(s string) *AmountValue {
	return &AmountValue{Text: s}
}

func (a *AmountValue) String() string {
	if a == nil {
		return ""
	}
	if a.IsNumber {
		return strconv.FormatFloat(a.Number, 'f', -1, 64)
	}
	return a.Text
}

// MarshalJSON keeps the original representation of the amount.
func (a AmountValue) MarshalJSON() ([]byte, error) {
	if a.IsNumber {
		return []byte(strconv.FormatFloat(a.Number, 'f', -1, 64)), nil
	}
	return []byte(strconv.Quote(a.Text)), nil
}

// CandidateTransaction is a transaction recovered from model output before
// normalization. Every field is optional; nil means the field was absent.
type CandidateTransaction struct {
	Vendor      *string      `json:"vendor,omitempty"`
	Title       *string      `json:"title,omitempty"`
	Date        *string      `json:"date,omitempty"`
	Amount      *AmountValue `json:"amount,omitempty"`
	Category    *string      `json:"category,omitempty"`
	Items       []string     `json:"items,omitempty"`
	Description *string      `json:"description,omitempty"`
	Type        *string      `json:"type,omitempty"`
}

// IsEmpty reports whether no field was recovered at all.
func (c CandidateTransaction) IsEmpty() bool {
	return c.Vendor == nil && c.Title == nil && c.Date == nil && c.Amount == nil &&
		c.Category == nil && len(c.Items) == 0 && c.Description == nil && c.Type == nil
}

// Transaction types.
const (
	TypeIncome  = "income"
	TypeExpense = "expense"
)

// ValidatedTransaction is a normalized transaction ready to be stored by the caller.
type ValidatedTransaction struct {
	Title       string   `json:"title"`
	Amount      float64  `json:"amount"`
	Date        string   `json:"date"`
	Category    Category `json:"category"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Vendor      string   `json:"vendor,omitempty"`
	Items       []string `json:"items,omitempty"`
}

// Candidate converts the transaction back into a candidate. Normalizing the
// result yields the same transaction again.
func (t ValidatedTransaction) Candidate() CandidateTransaction {
	c := CandidateTransaction{
		Title:       strPtr(t.Title),
		Date:        strPtr(t.Date),
		Amount:      NumberAmount(t.Amount),
		Category:    strPtr(string(t.Category)),
		Type:        strPtr(t.Type),
		Description: strPtr(t.Description),
		Items:       append([]string(nil), t.Items...),
	}
	if t.Vendor != "" {
		c.Vendor = strPtr(t.Vendor)
	}
	return c
}

func strPtr(s string) *string {
	return &s
}
