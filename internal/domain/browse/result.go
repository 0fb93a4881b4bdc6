package browse

// State is the phase of an asynchronous read.
type State uint8

const (
	// StateLoading means a read is in flight (or has not started yet).
	StateLoading State = iota
	// StateSuccess means the last read produced data.
	StateSuccess
	// StateError means the last read failed with a user-facing message.
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the published state of one screen's data. Exactly one state is
// active. Loading and Error results may still carry the data of the previous
// successful read so that a screen keeps showing it.
type Result[T any] struct {
	state   State
	data    T
	hasData bool
	message string
}

// Loading returns a loading result without data.
func Loading[T any]() Result[T] {
	return Result[T]{state: StateLoading}
}

// Success returns a result holding data.
func Success[T any](data T) Result[T] {
	return Result[T]{state: StateSuccess, data: data, hasData: true}
}

// Failure returns an error result carrying a user-facing message.
func Failure[T any](message string) Result[T] {
	return Result[T]{state: StateError, message: message}
}

// State returns the active state.
func (r Result[T]) State() State { return r.state }

// Data returns the data of the result and whether there is any. For Loading
// and Error results this is the previously published data, if retained.
func (r Result[T]) Data() (T, bool) { return r.data, r.hasData }

// Message returns the error message of an Error result.
func (r Result[T]) Message() string { return r.message }

func (r Result[T]) IsLoading() bool { return r.state == StateLoading }
func (r Result[T]) IsSuccess() bool { return r.state == StateSuccess }
func (r Result[T]) IsError() bool   { return r.state == StateError }

// retain copies the data of prev into a Loading or Error result.
func (r Result[T]) retain(prev Result[T]) Result[T] {
	if r.state == StateSuccess || !prev.hasData {
		return r
	}
	r.data = prev.data
	r.hasData = true
	return r
}
