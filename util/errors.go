package util

import "fmt"

type KernelError struct {
	Message string
	Err     error
}

func (e *KernelError) Error() string {
	return e.Message
}

func (e *KernelError) Unwrap() error {
	return e.Err
}

// FatalError marks an unrecoverable kernel fault: cache exhaustion, a lock
// discipline violation, or a bad physical address. A real kernel halts here;
// we panic with a distinct type so a harness can tell a fault apart from an
// ordinary error return.
type FatalError struct {
	*KernelError
}

// Fatalf raises a fatal kernel fault.
func Fatalf(format string, v ...any) {
	panic(&FatalError{&KernelError{Message: fmt.Sprintf(format, v...)}})
}
