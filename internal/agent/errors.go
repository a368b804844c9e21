package agent

import "errors"

var (
	ErrModelInvoke       = errors.New("model invoke failed")
	ErrToolInvoke        = errors.New("tool invoke failed")
	ErrAwaitingApproval  = errors.New("session is awaiting operator approval")
	ErrNotSuspended      = errors.New("session is not suspended")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTranscript = errors.New("invalid transcript")
)
