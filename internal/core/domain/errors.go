package domain

import "errors"

var (
	ErrClientNotFound  = errors.New("client not found")
	ErrAdminNotFound   = errors.New("admin not found")
	ErrTransportClosed = errors.New("transport closed")
	ErrClientOffline   = errors.New("client is offline")
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrAttemptInFlight = errors.New("handshake attempt already in flight")
)
