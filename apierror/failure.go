package apierror

// Failure is the tagged representation of a raw transport outcome, produced
// at the HTTP boundary. Exactly one of the concrete variants below is used:
//
//	NetworkFailure: no response was received at all
//	HTTPFailure:    a response arrived with a non-2xx status
//	AbortFailure:   the request was cooperatively cancelled
//
// Handlers pattern-match on the variant instead of probing an untyped
// payload.
type Failure interface {
	failure()
}

// NetworkFailure means the request never produced an HTTP response:
// connection refused, DNS failure, or a timeout.
type NetworkFailure struct {
	Err     error
	Timeout bool
}

func (NetworkFailure) failure() {}

// HTTPFailure carries a non-2xx response. Body holds the (bounded) response
// body for message extraction; it may be empty.
type HTTPFailure struct {
	Status int
	Body   []byte
}

func (HTTPFailure) failure() {}

// AbortFailure means the caller cancelled the request via its context.
type AbortFailure struct {
	Err error
}

func (AbortFailure) failure() {}

// infrastructureStatuses are the response codes that indicate the backend
// infrastructure itself is failing. Only these (plus NetworkFailure) count
// toward the circuit breaker; client errors and plain 500s never trip it.
var infrastructureStatuses = map[int]bool{
	502: true,
	503: true,
	504: true,
	525: true,
}

// IsInfrastructure reports whether f should count toward the circuit
// breaker's failure tracking.
func IsInfrastructure(f Failure) bool {
	switch v := f.(type) {
	case NetworkFailure:
		return true
	case HTTPFailure:
		return infrastructureStatuses[v.Status]
	default:
		return false
	}
}
