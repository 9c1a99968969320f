package domain

import "errors"

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrTransport        = errors.New("store transport error")
	ErrMalformedMessage = errors.New("malformed bridge message")
	ErrSurfaceLoad      = errors.New("surface load error")
	ErrSurfaceAvailable = errors.New("surface is not unavailable")
	ErrInvalidRing      = errors.New("invalid ring")
	ErrInvalidID        = errors.New("invalid area id")
	ErrAreaNotFound     = errors.New("area not found")
)
