// Package message defines the envelope that carries one transaction through the
// server's middleware chain and the status values used to report transport-level
// failures back to the caller.
package message

import (
	"fmt"
	"math"
)

// Transaction carries one request or one reply.
//
//   - On request:  Data holds the raw request buffer (interface token first).
//   - On reply:    Data holds the reply buffer; Err is non-nil if the transaction was rejected.
//
// Code is filled in by the dispatcher after it has been decoded, so middleware that runs
// after next() can report per operation. It stays 0 for requests rejected before that.
type Transaction struct {
	Seq  uint32
	Code uint32
	Data []byte
	Err  error
}

// Transport-level statuses, numbered like the binder layer the protocol descends from.
const (
	StatusPermissionDenied   int32 = -1  // interface token mismatch
	StatusWouldBlock         int32 = -11 // rejected by the rate limiter
	StatusNotEnoughData      int32 = -61 // request ended before all fields were read
	StatusUnknownTransaction int32 = -74 // code not in the command table
	StatusTimedOut           int32 = -110
	StatusUnknownError       int32 = math.MinInt32
)

// RemoteError is a transaction the peer refused to complete. It travels in an error
// frame as a single int32 and never carries a policy-engine status.
type RemoteError struct {
	Status int32
}

func (e *RemoteError) Error() string {
	switch e.Status {
	case StatusPermissionDenied:
		return "remote: permission denied"
	case StatusWouldBlock:
		return "remote: would block"
	case StatusNotEnoughData:
		return "remote: not enough data"
	case StatusUnknownTransaction:
		return "remote: unknown transaction"
	case StatusTimedOut:
		return "remote: timed out"
	}
	return fmt.Sprintf("remote: status %d", e.Status)
}

// Reject builds a reply that reports status instead of data.
func Reject(req *Transaction, status int32) *Transaction {
	return &Transaction{Seq: req.Seq, Code: req.Code, Err: &RemoteError{Status: status}}
}
