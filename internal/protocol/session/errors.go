package session

import "errors"

var (
	ErrAlreadyStarted = errors.New("session: already started")
	ErrSessionClosed  = errors.New("session: closed")
	ErrNilCapability  = errors.New("session: nil capability")
	ErrReconnectLimit = errors.New("session: reconnect limit reached")
)
