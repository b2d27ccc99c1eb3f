package bridge

import (
	"encoding/json"

	"github.com/kbukum/iceflow/errors"
)

// Kind discriminates the three message shapes.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// Message is the tagged union carried by one frame. Requests carry ID,
// Method and Params; responses carry ID and either Result or Error; events
// carry Method and Params.
type Message struct {
	Kind   Kind              `json:"kind"`
	ID     uint64            `json:"id,omitempty"`
	Method Method            `json:"method,omitempty"`
	Params json.RawMessage   `json:"params,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  *errors.ErrorBody `json:"error,omitempty"`
}

// RemoteError is an application error returned by the peer's handler, as
// opposed to a transport failure.
type RemoteError struct {
	Method Method
	Err    *errors.AppError
}

func (e *RemoteError) Error() string {
	return string(e.Method) + ": " + e.Err.Error()
}

func (e *RemoteError) Unwrap() error { return e.Err }
