package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrTooMany
	ErrInternal
	ErrInvalidFile
	ErrUploadFailed
	ErrUnsupportedType
	ErrExtraction
	ErrEmbedding
	ErrIndex
	ErrEmptyQuery
	ErrSynthesis
	ErrTimeout
	ErrClearFailed
)
