package utils

import (
	"fmt"
	"runtime"
)

// WrapError annotates err with the caller's file and line so structured log
// entries point at the call site rather than the logger.
func WrapError(err error) error {
	_, file, line, _ := runtime.Caller(1)
	return fmt.Errorf("error at %s:%d: %v", file, line, err)
}
