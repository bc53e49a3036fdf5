package common

import (
	perrors "github.com/pkg/errors"
)

var (
	ErrNilConn               = perrors.New("h2 transport conn is nil")
	ErrNilConnectionFactory  = perrors.New("h2 connection factory is nil")
	ErrNilConnectionRegistry = perrors.New("h2 connection registry is nil")
	ErrNilConnection         = perrors.New("h2 connection factory returned nil connection")
	ErrNilFrameListener      = perrors.New("h2 frame listener is not set")
	ErrConnectionExists      = perrors.New("h2 connection already registered for transport conn")
	ErrInvalidSettings       = perrors.New("invalid h2 settings")
	ErrHandlerClosed         = perrors.New("h2 connection handler closed")
	ErrHandlerStarted        = perrors.New("h2 connection handler already started")
	ErrStreamLimit           = perrors.New("h2 max concurrent streams exceeded")
	ErrBodyTooLarge          = perrors.New("h2 decompressed body too large")
)
