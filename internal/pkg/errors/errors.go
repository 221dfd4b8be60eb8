package errors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalid         = errors.New("invalid")
	ErrTooMany         = errors.New("too many requests")
	ErrInternal        = errors.New("internal")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrExtraction      = errors.New("text extraction failed")
	ErrEmbedding       = errors.New("embedding failed")
	ErrIndex           = errors.New("vector index failed")
	ErrEmptyQuery      = errors.New("question cannot be empty")
	ErrSynthesis       = errors.New("answer synthesis failed")
	ErrTimeout         = errors.New("timeout")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnsupportedType) || errors.Is(err, ErrEmptyQuery) || errors.Is(err, ErrInvalid)
}
