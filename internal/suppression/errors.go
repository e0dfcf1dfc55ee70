package suppression

import "errors"

// ErrNotFound is returned when an address is not on the suppression list.
var ErrNotFound = errors.New("suppression entry not found")
