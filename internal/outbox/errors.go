package outbox

import "fmt"

// CreationError is returned when the interceptor cannot materialize an outbox
// record. Hosts must treat it as fatal for the surrounding transaction so the
// business write never commits without its event.
type CreationError struct {
	EntityType string
	Op         string // INSERT or UPDATE
	Err        error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("outbox: creating %s record for %s: %v", e.Op, e.EntityType, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }
