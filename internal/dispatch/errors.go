package dispatch

import "errors"

var (
	// ErrUnknownZone means the zone id is not in the catalogue.
	ErrUnknownZone = errors.New("dispatch: unknown zone")
	// ErrUnknownAlert means the alert id is not active.
	ErrUnknownAlert = errors.New("dispatch: unknown alert")
	// ErrEscalationLimit means the alert already hit its maximum
	// escalation count.
	ErrEscalationLimit = errors.New("dispatch: escalation limit reached")
	// ErrNoKnownLocation means the anchor user has never reported a
	// position.
	ErrNoKnownLocation = errors.New("dispatch: no known location for user")
)
