package fingerprint

import "errors"

var (
	// ErrUnknownFilterType is returned for filter elements outside the vocabulary
	ErrUnknownFilterType = errors.New("unknown filter type")

	// ErrUnknownOperation is returned for operation elements outside the vocabulary
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrInvalidContent marks a content literal that could not be decoded
	ErrInvalidContent = errors.New("invalid content literal")

	// ErrInvalidExpression marks a calc expression outside the arithmetic grammar
	ErrInvalidExpression = errors.New("invalid calc expression")

	// ErrNoFingerprints is returned when a load produced nothing usable
	ErrNoFingerprints = errors.New("no fingerprints loaded")
)
