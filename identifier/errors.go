package identifier

import "fmt"

// ValidationError is returned for identifiers that are unsupported or malformed. It is only ever
// returned to the caller, it isn't a client-wide failure.
type ValidationError struct {
	Input string
	Err   error
}

func (me *ValidationError) Error() string {
	return fmt.Sprintf("invalid torrent identifier %s: %v", me.Input, me.Err)
}

func (me *ValidationError) Unwrap() error {
	return me.Err
}
