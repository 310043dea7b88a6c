// Package models defines the channel failure taxonomy used by the dispatcher.
package models

import "errors"

// ChannelError classifies a notification channel failure so the dispatcher can
// decide between bounded retry (transient) and immediate failure (permanent).
type ChannelError struct {
	Channel   NotificationChannel
	Transient bool
	Err       error
}

// Error implements the error interface.
func (e *ChannelError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return string(e.Channel) + " channel " + kind + " failure: " + e.Err.Error()
}

// Unwrap exposes the underlying cause.
func (e *ChannelError) Unwrap() error { return e.Err }

// NewTransientChannelError wraps a retryable channel failure (network, timeout).
func NewTransientChannelError(channel NotificationChannel, err error) *ChannelError {
	return &ChannelError{Channel: channel, Transient: true, Err: err}
}

// NewPermanentChannelError wraps a non-retryable channel failure (invalid
// address, channel not configured).
func NewPermanentChannelError(channel NotificationChannel, err error) *ChannelError {
	return &ChannelError{Channel: channel, Transient: false, Err: err}
}

// IsTransientChannelError reports whether err is a transient channel failure.
func IsTransientChannelError(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce) && ce.Transient
}
