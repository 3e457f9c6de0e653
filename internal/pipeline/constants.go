package pipeline

// Defaults for document intake and model invocation.
const (
	// DefaultModelName is the default Gemini model used for extraction.
	DefaultModelName = "gemini-2.0-flash-001"

	// DefaultMaxUploadBytes is the largest document accepted by the gateway.
	DefaultMaxUploadBytes = 10 << 20

	// PlaceholderReceiptTitle is used when a receipt has neither title nor vendor.
	PlaceholderReceiptTitle = "Receipt"

	// PlaceholderTransactionTitle is used when a history row has no title.
	PlaceholderTransactionTitle = "Transaction"

	// processingDateLayout is the only date format a ValidatedTransaction carries.
	processingDateLayout = "2006-01-02"
)
