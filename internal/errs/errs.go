// Package errs defines the error taxonomy shared across the gateway.
//
// Components return plain wrapped errors (fmt.Errorf("...: %w", err)); the
// HTTP edge classifies them with CategoryOf to pick a status code. This
// keeps business logic free of HTTP concerns while giving every error a
// single place where its surfaced category is decided.
package errs

import "errors"

// Category is one of the error taxonomy buckets from spec.md §7.
type Category int

const (
	// CategoryInternal is the default category for unrecognized errors.
	CategoryInternal Category = iota
	CategoryClientFault
	CategoryAuthFault
	CategoryConflict
	CategoryUpstream
	CategoryFacilitator
)

// Sentinel errors. Wrap these with fmt.Errorf("...: %w", ErrX) so CategoryOf
// and errors.Is both keep working.
var (
	// ErrMalformedPayment covers every Payment Codec decode failure.
	ErrMalformedPayment = errors.New("malformed payment header")
	// ErrUnderpayment is returned when value < max_amount_required.
	ErrUnderpayment = errors.New("underpayment")
	// ErrWrongNetwork is returned when the header's network doesn't match
	// the selected requirement.
	ErrWrongNetwork = errors.New("wrong network")
	// ErrExpiredAuthorization is returned when valid_before has passed.
	ErrExpiredAuthorization = errors.New("authorization expired")
	// ErrNoMatchingRequirement is returned when no active pricing entry
	// aligns with the presented header.
	ErrNoMatchingRequirement = errors.New("no matching payment requirement")
	// ErrUnsupportedScheme is returned for any scheme other than "exact".
	ErrUnsupportedScheme = errors.New("unsupported scheme")

	// ErrMissingAPIKey / ErrInvalidAPIKey / ErrPermissionDenied are auth faults.
	ErrMissingAPIKey    = errors.New("missing api key")
	ErrInvalidAPIKey    = errors.New("invalid api key")
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDuplicateRegistration and ErrPaymentInFlight are conflicts.
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrPaymentInFlight       = errors.New("payment already in flight")

	// ErrUpstreamUnreachable and ErrUpstreamGone are upstream faults.
	ErrUpstreamUnreachable = errors.New("upstream mcp server unreachable")
	ErrUpstreamGone        = errors.New("upstream connection lost")
	ErrBusy                = errors.New("upstream server at capacity")

	// ErrFacilitatorUnavailable covers network failures talking to the facilitator.
	ErrFacilitatorUnavailable = errors.New("facilitator unavailable")
	ErrReplay                 = errors.New("replay")
)

var categories = map[error]Category{
	ErrMalformedPayment:      CategoryClientFault,
	ErrUnderpayment:          CategoryClientFault,
	ErrWrongNetwork:          CategoryClientFault,
	ErrExpiredAuthorization:  CategoryClientFault,
	ErrNoMatchingRequirement: CategoryClientFault,
	ErrUnsupportedScheme:     CategoryClientFault,

	ErrMissingAPIKey:    CategoryAuthFault,
	ErrInvalidAPIKey:    CategoryAuthFault,
	ErrPermissionDenied: CategoryAuthFault,

	ErrDuplicateRegistration: CategoryConflict,
	ErrPaymentInFlight:       CategoryConflict,

	ErrUpstreamUnreachable: CategoryUpstream,
	ErrUpstreamGone:        CategoryUpstream,
	ErrBusy:                CategoryUpstream,

	ErrFacilitatorUnavailable: CategoryFacilitator,
	ErrReplay:                 CategoryFacilitator,
}

// CategoryOf classifies err into a taxonomy bucket by walking its Is chain
// against the known sentinels. Unrecognized errors are CategoryInternal and
// must never have their message merged into a client-facing errorReason
// field (spec.md §7).
func CategoryOf(err error) Category {
	for sentinel, cat := range categories {
		if errors.Is(err, sentinel) {
			return cat
		}
	}
	return CategoryInternal
}

// StatusCode maps a Category to the HTTP status spec.md §6/§7 prescribes.
func (c Category) StatusCode() int {
	switch c {
	case CategoryClientFault:
		return 400
	case CategoryAuthFault:
		return 401
	case CategoryConflict:
		return 409
	case CategoryUpstream:
		return 502
	case CategoryFacilitator:
		return 503
	default:
		return 500
	}
}
