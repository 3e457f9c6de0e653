package pipeline

import (
	"strings"
)

var receiptPrompt = "You are a receipt reader for a personal finance tracker.\n\n" +
	"Task:\n" +
	"- Extract the purchase shown in the attached receipt image or PDF.\n" +
	"- Output a single JSON object and nothing else.\n\n" +
	"The object must have these fields:\n" +
	"- \"vendor\": string, the store or merchant name\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"amount\": number, the total paid\n" +
	"- \"items\": array of strings, the purchased items\n" +
	"- \"category\": string, one of: " + categoryList() + "\n" +
	"- \"title\": string, a short title for the purchase\n" +
	"- \"description\": string, a one sentence summary\n\n" +
	"Rules:\n" +
	"- If a field cannot be determined, use null.\n" +
	"- Do not invent values that are not on the receipt.\n"

var historyPrompt = "You are a transaction history reader for a personal finance tracker.\n\n" +
	"Task:\n" +
	"- Extract EVERY transaction row from the attached statement or transaction history.\n" +
	"- Output a JSON array with one object per transaction and nothing else.\n\n" +
	"Each object must have these fields:\n" +
	"- \"title\": string, a short title for the transaction\n" +
	"- \"amount\": number, always positive\n" +
	"- \"type\": string, \"income\" for money in, \"expense\" for money out\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"category\": string, one of: " + categoryList() + "\n" +
	"- \"description\": string, the row's description\n\n" +
	"Rules:\n" +
	"- If a field cannot be determined, use null.\n" +
	"- Output must begin with \"[\" and end with \"]\".\n"

// PromptFor returns the fixed instruction text for a mode.
func PromptFor(mode Mode) string {
	if mode == ModeHistoryBatch {
		return historyPrompt
	}
	return receiptPrompt
}

func categoryList() string {
	names := make([]string, 0, len(Categories))
	for _, c := range Categories {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}
