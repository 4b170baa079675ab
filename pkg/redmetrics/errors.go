package redmetrics

import "errors"

// Failure classes. Returned errors wrap exactly one of these; match with
// errors.Is.
var (
	// ErrConfiguration is returned by Connect before any network call when the
	// configuration is unusable.
	ErrConfiguration = errors.New("redmetrics: invalid configuration")

	// ErrAlreadyConnected is returned by Connect while a handshake or session
	// is in progress. Call Disconnect first.
	ErrAlreadyConnected = errors.New("redmetrics: already connected or connecting")

	ErrConnection         = errors.New("redmetrics: cannot reach server")
	ErrInvalidGameVersion = errors.New("redmetrics: invalid game version")
	ErrPlayerCreation     = errors.New("redmetrics: cannot create player")
	ErrPlayerUpdate       = errors.New("redmetrics: cannot update player")
	ErrDelivery           = errors.New("redmetrics: delivery failed")

	// ErrDisconnected settles a Delivery whose records were discarded by
	// Disconnect before they could be sent.
	ErrDisconnected = errors.New("redmetrics: disconnected before delivery")
)
