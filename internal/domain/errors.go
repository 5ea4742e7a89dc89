package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrBusClosed    = errors.New("event bus closed")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrBadAddress   = errors.New("invalid trader address")
	ErrBadFrame     = errors.New("unparseable frame")
)
