package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies extraction failures for callers and the run log.
type ErrorKind string

const (
	KindNoFile                  ErrorKind = "NO_FILE"
	KindUnsupportedMediaType    ErrorKind = "UNSUPPORTED_MEDIA_TYPE"
	KindPayloadTooLarge         ErrorKind = "PAYLOAD_TOO_LARGE"
	KindExternalService         ErrorKind = "EXTERNAL_SERVICE_ERROR"
	KindNoStructuredDataFound   ErrorKind = "NO_STRUCTURED_DATA_FOUND"
	KindNoTransactionsExtracted ErrorKind = "NO_TRANSACTIONS_EXTRACTED"
	KindInternal                ErrorKind = "INTERNAL"
)

// ExtractionError is returned by every stage of the extraction pipeline.
// Detail carries the provider's own message for external service failures.
type ExtractionError struct {
	Kind    ErrorKind
	Message string
	Detail  string
	Err     error
}

func (e *ExtractionError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is matches any ExtractionError of the same kind, so the sentinels below
// work with errors.Is.
func (e *ExtractionError) Is(target error) bool {
	t, ok := target.(*ExtractionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNoFile                  = &ExtractionError{Kind: KindNoFile, Message: "no file uploaded"}
	ErrUnsupportedMediaType    = &ExtractionError{Kind: KindUnsupportedMediaType, Message: "only images and PDF files are allowed"}
	ErrPayloadTooLarge         = &ExtractionError{Kind: KindPayloadTooLarge, Message: "file exceeds the upload size limit"}
	ErrExternalService         = &ExtractionError{Kind: KindExternalService, Message: "model service error"}
	ErrNoStructuredDataFound   = &ExtractionError{Kind: KindNoStructuredDataFound, Message: "no structured data found in model response"}
	ErrNoTransactionsExtracted = &ExtractionError{Kind: KindNoTransactionsExtracted, Message: "no transactions extracted from document"}
)

// NewExternalServiceError wraps a failed model call.
func NewExternalServiceError(detail string, err error) *ExtractionError {
	return &ExtractionError{
		Kind:    KindExternalService,
		Message: ErrExternalService.Message,
		Detail:  detail,
		Err:     err,
	}
}

func newUnsupportedMediaTypeError(mimeType string) *ExtractionError {
	return &ExtractionError{
		Kind:    KindUnsupportedMediaType,
		Message: ErrUnsupportedMediaType.Message,
		Detail:  fmt.Sprintf("got %q", mimeType),
	}
}

func newPayloadTooLargeError(size, limit int64) *ExtractionError {
	return &ExtractionError{
		Kind:    KindPayloadTooLarge,
		Message: ErrPayloadTooLarge.Message,
		Detail:  fmt.Sprintf("%d bytes, limit %d", size, limit),
	}
}

// KindOf returns the kind of the first ExtractionError in err's chain,
// or KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		return extErr.Kind
	}
	return KindInternal
}
