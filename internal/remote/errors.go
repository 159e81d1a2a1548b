package remote

import "errors"

var (
	ErrReadFailed          = errors.New("remote read failed")
	ErrWriteFailed         = errors.New("remote write failed")
	ErrChannelDisconnected = errors.New("change channel disconnected")
	ErrConflict            = errors.New("row conflicts with an existing row")
	ErrNotFound            = errors.New("row does not exist")
	ErrBadReference        = errors.New("row references a missing row")
	ErrUnknownCollection   = errors.New("unknown collection")
	ErrMalformedEvent      = errors.New("malformed change event")
)
