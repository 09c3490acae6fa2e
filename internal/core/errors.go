package core

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrLabelsUnsupported is returned when a label is requested on a non-Gmail account
	ErrLabelsUnsupported = errors.New("labels are only supported for Gmail accounts")
	// ErrUnparseableResponse is returned by LLM clients when the model output is not usable
	ErrUnparseableResponse = errors.New("LLM response could not be parsed")
	// ErrUnsupportedAccountType is returned when no connector exists for an account type
	ErrUnsupportedAccountType = errors.New("unsupported account type")
)
