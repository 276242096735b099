//go:build !linux || !cgo

package shm

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("shared memory capture needs linux and cgo")

func openReader(name string, wait time.Duration) (Source, error) {
	return nil, errUnsupported
}
