package services

import "errors"

// Domain errors. Handlers map these to HTTP statuses; none of them is
// retried automatically.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("permission denied")
	ErrUnavailable     = errors.New("service temporarily unavailable")

	ErrCampaignFull   = errors.New("campaign is full")
	ErrAlreadyClaimed = errors.New("already listed in this campaign")
	ErrNotClaimed     = errors.New("not listed in this campaign")
	ErrClaimInFlight  = errors.New("a seat request is already in progress")
	ErrSeatDenied     = errors.New("plan does not allow joining this campaign")

	ErrEmailTaken     = errors.New("email already registered")
	ErrUnknownPlan    = errors.New("unknown plan")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrSessionRevoked = errors.New("session revoked")
)
