package shared

import "errors"

var (
	ErrNoLogger          = errors.New("no logger provided")
	ErrNoConfig          = errors.New("no config provided")
	ErrNoChannel         = errors.New("no signaling channel provided")
	ErrNoTransport       = errors.New("no transport provided")
	ErrNoCallControl     = errors.New("no call control provided")
	ErrNoLookup          = errors.New("no site lookup provided")
	ErrNoSites           = errors.New("no sites provided")
	ErrSessionClosed     = errors.New("session closed")
	ErrWrongRole         = errors.New("operation not valid for this role")
	ErrInvalidState      = errors.New("operation not valid in current state")
	ErrMediaNotAvailable = errors.New("media capture not available")
	ErrHandlerAlreadySet = errors.New("handler already set")
	ErrAlreadySubscribed = errors.New("channel already subscribed")
	ErrChannelClosed     = errors.New("signaling channel closed")
	ErrOfferTaken        = errors.New("session record already holds an offer")
	ErrUnknownSession    = errors.New("unknown call session")
)
