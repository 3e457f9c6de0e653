package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// candidateFromObject maps one decoded JSON object onto a candidate.
// Unknown keys are ignored and null values count as absent.
func candidateFromObject(obj map[string]interface{}) CandidateTransaction {
	return CandidateTransaction{
		Vendor:      getOptionalStringField(obj, "vendor"),
		Title:       getOptionalStringField(obj, "title"),
		Date:        getOptionalStringField(obj, "date"),
		Amount:      getOptionalAmountField(obj, "amount"),
		Category:    getOptionalStringField(obj, "category"),
		Items:       getStringListField(obj, "items"),
		Description: getOptionalStringField(obj, "description"),
		Type:        getOptionalStringField(obj, "type"),
	}
}

func getOptionalStringField(m map[string]interface{}, key string) *string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case string:
		return &val
	case float64:
		s := strconv.FormatFloat(val, 'f', -1, 64)
		return &s
	case json.Number:
		s := val.String()
		return &s
	case bool:
		s := strconv.FormatBool(val)
		return &s
	default:
		return nil
	}
}

func getOptionalAmountField(m map[string]interface{}, key string) *AmountValue {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case float64:
		return NumberAmount(val)
	case json.Number:
		return amountFromNumber(val)
	case string:
		return TextAmount(val)
	default:
		return nil
	}
}

// amountFromNumber converts a JSON number through decimal. Numbers that do
// not fit a finite float64 are kept as text so normalization rejects them.
func amountFromNumber(n json.Number) *AmountValue {
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return TextAmount(n.String())
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return TextAmount(n.String())
	}
	f, _ := d.Float64()
	return NumberAmount(f)
}

func getStringListField(m map[string]interface{}, key string) []string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []string{val}
	case []interface{}:
		items := make([]string, 0, len(val))
		for _, item := range val {
			switch it := item.(type) {
			case string:
				items = append(items, it)
			case float64:
				items = append(items, strconv.FormatFloat(it, 'f', -1, 64))
			case json.Number:
				items = append(items, it.String())
			case map[string]interface{}:
				// Some receipts come back as [{"name": "...", "price": ...}].
				if name, ok := it["name"].(string); ok {
					items = append(items, name)
				}
			}
		}
		return items
	default:
		return nil
	}
}

// Normalizer turns candidates into validated transactions. It never fails;
// missing or malformed fields get defaults. The clock supplies the date used
// when the candidate carries no valid one.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a normalizer. A nil clock means time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize applies the per-field defaults and coercions for the given mode.
func (n *Normalizer) Normalize(mode Mode, c CandidateTransaction) ValidatedTransaction {
	vendor := trimmed(c.Vendor)

	t := ValidatedTransaction{
		Title:       normalizeTitle(mode, trimmed(c.Title), vendor),
		Amount:      NormalizeAmount(c.Amount),
		Date:        n.normalizeDate(trimmed(c.Date)),
		Category:    CanonicalCategory(trimmed(c.Category)),
		Type:        normalizeType(mode, trimmed(c.Type)),
		Description: normalizeDescription(mode, trimmed(c.Description), vendor),
		Vendor:      vendor,
	}

	for _, item := range c.Items {
		if s := strings.TrimSpace(item); s != "" {
			t.Items = append(t.Items, s)
		}
	}

	return t
}

// NormalizeAll normalizes every candidate in order.
func (n *Normalizer) NormalizeAll(mode Mode, candidates []CandidateTransaction) []ValidatedTransaction {
	result := make([]ValidatedTransaction, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, n.Normalize(mode, c))
	}
	return result
}

// NormalizeAmount coerces a recovered amount into a finite, non-negative
// number. Text keeps only digits and the decimal point; anything negative,
// non-finite or unparseable becomes 0.
func NormalizeAmount(a *AmountValue) float64 {
	if a == nil {
		return 0
	}
	if a.IsNumber {
		return sanitizeAmount(a.Number)
	}

	s := strings.TrimSpace(a.Text)
	if isNegativeText(s) || exponentPattern.MatchString(s) {
		return 0
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return sanitizeAmount(f)
}

func sanitizeAmount(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// exponentPattern matches scientific notation such as 1e400 or 2.5E-3.
var exponentPattern = regexp.MustCompile(`\d[eE][+-]?\d`)

// isNegativeText reports whether a minus sign appears before the first digit.
func isNegativeText(s string) bool {
	for _, r := range s {
		switch {
		case r == '-' || r == '−':
			return true
		case r >= '0' && r <= '9':
			return false
		}
	}
	return false
}

func (n *Normalizer) normalizeDate(s string) string {
	if d, ok := parseDate(s); ok {
		return d
	}
	return n.now().UTC().Format(processingDateLayout)
}

// parseDate accepts YYYY-MM-DD, optionally followed by a time part as in
// RFC 3339 timestamps.
func parseDate(s string) (string, bool) {
	if len(s) < len(processingDateLayout) {
		return "", false
	}
	if len(s) > len(processingDateLayout) {
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			if _, err := time.Parse("2006-01-02T15:04:05", s); err != nil {
				return "", false
			}
		}
		s = s[:len(processingDateLayout)]
	}
	d, err := time.Parse(processingDateLayout, s)
	if err != nil {
		return "", false
	}
	return d.Format(processingDateLayout), true
}

func normalizeType(mode Mode, s string) string {
	if mode == ModeHistoryBatch && strings.EqualFold(s, TypeIncome) {
		return TypeIncome
	}
	return TypeExpense
}

func normalizeTitle(mode Mode, title, vendor string) string {
	switch {
	case title != "":
		return title
	case vendor != "":
		return vendor
	case mode == ModeHistoryBatch:
		return PlaceholderTransactionTitle
	default:
		return PlaceholderReceiptTitle
	}
}

func normalizeDescription(mode Mode, description, vendor string) string {
	if description != "" {
		return description
	}
	if mode == ModeSingleReceipt && vendor != "" {
		return fmt.Sprintf("Purchase at %s", vendor)
	}
	return ""
}

// trimmed dereferences s, treating nil, blank and the literal "null" as empty.
func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	v := strings.TrimSpace(*s)
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}
