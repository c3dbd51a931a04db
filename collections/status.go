package collections

// Status is the state of a submitted collection as reported by the
// platform. It is re-derived on every query, never cached.
type Status string

const (
	// StatusPending means the payer has not yet approved or declined.
	StatusPending Status = "PENDING"
	// StatusSuccessful is terminal: the collection settled.
	StatusSuccessful Status = "SUCCESSFUL"
	// StatusFailed is terminal: the payer declined or the platform
	// gave up on the request.
	StatusFailed Status = "FAILED"
	// StatusUnknown covers status values this client does not
	// recognize. It is a distinguished state, not an error: the
	// platform answered, the answer just was not conclusive.
	StatusUnknown Status = "UNKNOWN"
)

// Terminal reports whether the platform will never change this status
// again.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// ParseStatus maps the platform's raw status field to a Status.
// Anything unrecognized maps to StatusUnknown.
func ParseStatus(raw string) Status {
	switch raw {
	case "PENDING":
		return StatusPending
	case "SUCCESSFUL":
		return StatusSuccessful
	case "FAILED":
		return StatusFailed
	default:
		return StatusUnknown
	}
}
