package core

import "time"

// ResultMetadata identifies the operation that produced a Result.
type ResultMetadata struct {
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the uniform envelope returned by every state-changing public
// operation. Errors cross the boundary inside the envelope with a stable
// sentinel wrapped into Err; the only errors surfaced outside it are
// documented synchronous validation failures.
type Result struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Err      error          `json:"-"`
	Metadata ResultMetadata `json:"metadata"`
}

// OK constructs a successful result for the named operation.
func OK(operation string, data any) Result {
	return Result{
		Success:  true,
		Data:     data,
		Metadata: ResultMetadata{Operation: operation, Timestamp: time.Now().UTC()},
	}
}

// Fail constructs a failed result carrying the terminal error.
func Fail(operation string, err error) Result {
	return Result{
		Success:  false,
		Err:      err,
		Metadata: ResultMetadata{Operation: operation, Timestamp: time.Now().UTC()},
	}
}
