package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrInvalid
	ErrNotFound
	ErrProvider
	ErrUnexpected
	ErrInvalidFile
	ErrUploadFailed
	ErrAIUnavailable
)
