package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// OutcomeKind tags the result of one recovery strategy.
type OutcomeKind int

const (
	// NeedsFallback means the strategy found nothing usable; try the next one.
	NeedsFallback OutcomeKind = iota
	// StructuredOK means the strategy produced candidates; stop here.
	StructuredOK
	// Unrecoverable means no later strategy can help; stop with Err.
	Unrecoverable
)

// Strategy names the recovery strategy that produced a result.
type Strategy string

const (
	StrategyFenced  Strategy = "fenced"
	StrategyBracket Strategy = "bracket"
	StrategyFields  Strategy = "fields"
)

// Outcome is what a recovery strategy returns.
type Outcome struct {
	Kind       OutcomeKind
	Candidates []CandidateTransaction
	Err        error
}

// Recovery is the accepted result of the strategy cascade.
type Recovery struct {
	Strategy   Strategy
	Candidates []CandidateTransaction
}

type recoveryStrategy struct {
	name  Strategy
	modes []Mode
	run   func(raw string, mode Mode) Outcome
}

func (s recoveryStrategy) appliesTo(mode Mode) bool {
	for _, m := range s.modes {
		if m == mode {
			return true
		}
	}
	return false
}

// recoveryStrategies run in order; the first StructuredOK wins and results
// are never merged.
var recoveryStrategies = []recoveryStrategy{
	{name: StrategyFenced, modes: []Mode{ModeSingleReceipt, ModeHistoryBatch}, run: recoverFenced},
	{name: StrategyBracket, modes: []Mode{ModeSingleReceipt, ModeHistoryBatch}, run: recoverBracket},
	{name: StrategyFields, modes: []Mode{ModeSingleReceipt}, run: recoverFields},
}

// RecoverStructuredData extracts candidate transactions from raw model text.
// Single receipt mode yields exactly one candidate; history mode yields one
// per array element that is a JSON object.
func RecoverStructuredData(raw string, mode Mode) (*Recovery, error) {
	for _, s := range recoveryStrategies {
		if !s.appliesTo(mode) {
			continue
		}
		out := s.run(raw, mode)
		switch out.Kind {
		case StructuredOK:
			if mode == ModeHistoryBatch && len(out.Candidates) == 0 {
				return nil, ErrNoTransactionsExtracted
			}
			return &Recovery{Strategy: s.name, Candidates: out.Candidates}, nil
		case Unrecoverable:
			return nil, out.Err
		}
	}
	return nil, ErrNoStructuredDataFound
}

var fencedBlockRe = regexp.MustCompile("(?s)```[ \t]*(?i:json)?(.*?)```")

func recoverFenced(raw string, mode Mode) Outcome {
	for _, m := range fencedBlockRe.FindAllStringSubmatch(raw, -1) {
		if out := decodeForMode(strings.TrimSpace(m[1]), mode); out.Kind == StructuredOK {
			return out
		}
	}
	return Outcome{Kind: NeedsFallback}
}

func recoverBracket(raw string, mode Mode) Outcome {
	openDelim, closeDelim := byte('{'), byte('}')
	if mode == ModeHistoryBatch {
		openDelim, closeDelim = '[', ']'
	}
	span, ok := balancedSpan(raw, openDelim, closeDelim)
	if !ok {
		return Outcome{Kind: NeedsFallback}
	}
	return decodeForMode(span, mode)
}

// balancedSpan returns the text from the first open delimiter to its
// matching close delimiter. Delimiters inside JSON string literals are
// ignored.
func balancedSpan(s string, openDelim, closeDelim byte) (string, bool) {
	start := strings.IndexByte(s, openDelim)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case openDelim:
			depth++
		case closeDelim:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// decodeForMode parses text as an object (single receipt) or an array of
// objects (history). Anything else needs the next strategy.
func decodeForMode(text string, mode Mode) Outcome {
	if mode == ModeHistoryBatch {
		var rows []interface{}
		if err := decodeJSON(text, &rows); err != nil || rows == nil {
			return Outcome{Kind: NeedsFallback}
		}
		candidates := make([]CandidateTransaction, 0, len(rows))
		for _, row := range rows {
			obj, ok := row.(map[string]interface{})
			if !ok {
				continue
			}
			candidates = append(candidates, candidateFromObject(obj))
		}
		return Outcome{Kind: StructuredOK, Candidates: candidates}
	}

	var obj map[string]interface{}
	if err := decodeJSON(text, &obj); err != nil || obj == nil {
		return Outcome{Kind: NeedsFallback}
	}
	return Outcome{Kind: StructuredOK, Candidates: []CandidateTransaction{candidateFromObject(obj)}}
}

// decodeJSON decodes exactly one JSON value from text. Numbers are kept as
// json.Number so out-of-range values do not fail the whole document.
func decodeJSON(text string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("decodeJSON: unexpected data after JSON value")
	}
	return nil
}

// fieldLabels lists the labels searched for each field, in priority order.
var fieldLabels = []struct {
	field  string
	labels []string
}{
	{"vendor", []string{"vendor", "store"}},
	{"date", []string{"date"}},
	{"amount", []string{"amount", "total"}},
	{"category", []string{"category"}},
	{"title", []string{"title"}},
	{"description", []string{"description", "summary"}},
}

var fieldPatterns = compileFieldPatterns()

func compileFieldPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp)
	for _, f := range fieldLabels {
		for _, label := range f.labels {
			patterns[label] = regexp.MustCompile(`(?i)\b` + label + `\b["']?[\s:=]*["']?([^"',\n}]+)`)
		}
	}
	return patterns
}

// recoverFields pulls individual labelled values out of free text. It is
// the last resort for single receipts: a record with no fields at all means
// the response held no usable data.
func recoverFields(raw string, _ Mode) Outcome {
	values := make(map[string]string)
	for _, f := range fieldLabels {
		for _, label := range f.labels {
			m := fieldPatterns[label].FindStringSubmatch(raw)
			if m == nil {
				continue
			}
			v := strings.TrimSpace(m[1])
			if v == "" || strings.EqualFold(v, "null") {
				continue
			}
			values[f.field] = v
			break
		}
	}

	c := CandidateTransaction{}
	if v, ok := values["vendor"]; ok {
		c.Vendor = strPtr(v)
	}
	if v, ok := values["date"]; ok {
		c.Date = strPtr(v)
	}
	if v, ok := values["amount"]; ok {
		c.Amount = TextAmount(v)
	}
	if v, ok := values["category"]; ok {
		c.Category = strPtr(v)
	}
	if v, ok := values["title"]; ok {
		c.Title = strPtr(v)
	}
	if v, ok := values["description"]; ok {
		c.Description = strPtr(v)
	}

	if c.IsEmpty() {
		return Outcome{Kind: Unrecoverable, Err: ErrNoStructuredDataFound}
	}
	return Outcome{Kind: StructuredOK, Candidates: []CandidateTransaction{c}}
}
