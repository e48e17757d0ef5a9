package policy

import (
	"errors"
	"fmt"

	"audiopolicy/codec"
	"audiopolicy/message"
)

var (
	// ErrUnauthorizedInterface rejects a request whose interface token is not Descriptor.
	ErrUnauthorizedInterface = errors.New("audio policy: unauthorized interface")

	// ErrUnknownTransaction is the default answer of the fallback path.
	ErrUnknownTransaction = errors.New("audio policy: unknown transaction")

	// ErrInvalidHandle is returned with the sentinel handle by GetOutput and GetInput.
	ErrInvalidHandle = errors.New("audio policy: no session opened")

	// ErrFieldTooLong and ErrFieldHasNul reject a string argument before it is sent.
	// The server could not read it back unchanged.
	ErrFieldTooLong = errors.New("audio policy: string argument too long")
	ErrFieldHasNul  = errors.New("audio policy: string argument contains NUL")

	// ErrMalformedMessage is codec.ErrMalformedMessage, re-exported for callers of the proxy.
	ErrMalformedMessage = codec.ErrMalformedMessage
)

// TransportError means the round trip did not complete. The call may or may not have
// reached the engine; it is never retried here.
type TransportError struct {
	Code Code
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("audio policy: %v: transport failure: %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// statusOf maps a dispatch failure to the status carried in an error frame.
func statusOf(err error) int32 {
	var re *message.RemoteError
	switch {
	case errors.Is(err, ErrUnauthorizedInterface):
		return message.StatusPermissionDenied
	case errors.Is(err, codec.ErrMalformedMessage):
		return message.StatusNotEnoughData
	case errors.Is(err, ErrUnknownTransaction):
		return message.StatusUnknownTransaction
	case errors.As(err, &re):
		return re.Status
	}
	return message.StatusUnknownError
}

// remoteError turns an error frame back into the condition the dispatcher raised.
// Statuses the dispatcher never produces came from the server's middleware or transport
// and mean the call did not complete.
func remoteError(code Code, re *message.RemoteError) error {
	switch re.Status {
	case message.StatusPermissionDenied:
		return fmt.Errorf("%v: %w: %w", code, ErrUnauthorizedInterface, re)
	case message.StatusNotEnoughData:
		return fmt.Errorf("%v: %w: %w", code, ErrMalformedMessage, re)
	case message.StatusUnknownTransaction:
		return fmt.Errorf("%v: %w: %w", code, ErrUnknownTransaction, re)
	}
	return &TransportError{Code: code, Err: re}
}
