package splio

import (
	"errors"
	"fmt"

	"github.com/atriumdigital/spliosync/internal/mapping"
)

var (
	// ErrNotMapped marks a record whose type and bundle match no entry
	// of the configured entity map.
	ErrNotMapped = errors.New("record is not mapped to a splio entity")

	// ErrNoKeyField marks a record whose key field resolved empty; such
	// a record cannot be addressed remotely.
	ErrNoKeyField = errors.New("record has no key field value")

	// ErrNoParentReceipt marks an order line whose parent receipt could
	// not be located.
	ErrNoParentReceipt = errors.New("no parent receipt found for order line")

	// ErrInvalidAction marks an action outside create, update, delete.
	ErrInvalidAction = errors.New("invalid sync action")

	// ErrDeleteUnsupported marks a delete on an entity type the remote
	// API cannot remove (products and stores).
	ErrDeleteUnsupported = errors.New("delete is not supported for this entity type")

	// ErrMalformedResponse marks a 2xx read response whose body is not
	// valid JSON.
	ErrMalformedResponse = errors.New("malformed response body")
)

// RequestError describes a failed request against the Splio API. A zero
// Status means the request never produced a response.
type RequestError struct {
	Op     string
	Entity mapping.EntityType
	Key    string
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("splio %s %s/%s: %v", e.Op, e.Entity, e.Key, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("splio %s %s/%s: status %d: %v", e.Op, e.Entity, e.Key, e.Status, e.Err)
	}
	return fmt.Sprintf("splio %s %s/%s: status %d", e.Op, e.Entity, e.Key, e.Status)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying: a transport
// error or a server-side status. Client errors are permanent.
func (e *RequestError) Transient() bool {
	return e.Status == 0 || e.Status >= 500
}
