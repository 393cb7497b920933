package message

import "fmt"

// RequestFailedError reports that the host answered a request with a
// non-success status. It affects only the request it names.
type RequestFailedError struct {
	Kind      RequestKind
	RequestID string
	Status    Status
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("%s request %q failed with status %s", e.Kind, e.RequestID, e.Status)
}
