package audio

import (
	"fmt"
	"math"
)

// Status is the result code returned by the policy engine. Zero is success; anything else
// is passed through the protocol untouched.
type Status int32

const (
	StatusOK               Status = 0
	StatusPermissionDenied Status = -1
	StatusNameNotFound     Status = -2
	StatusNoMemory         Status = -12
	StatusAlreadyExists    Status = -17
	StatusNoInit           Status = -19
	StatusBadValue         Status = -22
	StatusDeadObject       Status = -32
	StatusInvalidOperation Status = -38
	StatusUnknownError     Status = math.MinInt32
)

// Err returns nil for StatusOK and s otherwise, so callers can write `return s.Err()`.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return s
}

func (s Status) Error() string {
	switch s {
	case StatusOK:
		return "audio policy: ok"
	case StatusPermissionDenied:
		return "audio policy: permission denied"
	case StatusNameNotFound:
		return "audio policy: name not found"
	case StatusNoMemory:
		return "audio policy: no memory"
	case StatusAlreadyExists:
		return "audio policy: already exists"
	case StatusNoInit:
		return "audio policy: not initialized"
	case StatusBadValue:
		return "audio policy: bad value"
	case StatusDeadObject:
		return "audio policy: dead object"
	case StatusInvalidOperation:
		return "audio policy: invalid operation"
	case StatusUnknownError:
		return "audio policy: unknown error"
	}
	return fmt.Sprintf("audio policy: status %d", int32(s))
}
