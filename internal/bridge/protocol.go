// Package bridge exposes a scan session to a host application as method
// calls and pushed events over HTTP, SSE and WebSocket.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/internal/detect"
	"github.com/cloudacy/barcode-scanner/internal/scan"
)

// Error codes that cross the bridge
const (
	CodePermissionDenied    = "PermissionDenied"
	CodeAlreadyPending      = "AlreadyPending"
	CodeNoDevice            = "NoDevice"
	CodeConfigurationFailed = "ConfigurationFailed"
	CodeDeviceInUse         = "DeviceInUse"
	CodeInvalidArgument     = "InvalidArgument"
	CodeStartCancelled      = "StartCancelled"
	CodeAccessError         = "AccessError"
	CodeNotImplemented      = "NotImplemented"
	CodeInternal            = "Internal"
)

// EventPermissionRequest asks the host to show a camera permission prompt
const EventPermissionRequest = "permissionRequest"

var (
	errNotImplemented = errors.New("method not implemented")
	errNothingPending = errors.New("no permission request pending")
)

// Request is one method call. ID is echoed in the response and may be empty
// on HTTP, where the method comes from the path.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Response carries either Result or Error
type Response struct {
	ID     string `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// EventMessage is a pushed event
type EventMessage struct {
	Event string `json:"event"`
	Args  any    `json:"args,omitempty"`
}

// Error is the wire form of a failed call
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// toError maps a domain error to its bridge code
func toError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Code: codeFor(err), Message: err.Error()}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, errNotImplemented):
		return CodeNotImplemented
	case errors.Is(err, scan.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, scan.ErrAlreadyPending):
		return CodeAlreadyPending
	case errors.Is(err, scan.ErrStartCancelled):
		return CodeStartCancelled
	case errors.Is(err, scan.ErrInvalidArgument), errors.Is(err, errNothingPending):
		return CodeInvalidArgument
	case errors.Is(err, camera.ErrNoDevice):
		return CodeNoDevice
	case errors.Is(err, camera.ErrDeviceInUse):
		return CodeDeviceInUse
	case errors.Is(err, camera.ErrAccess):
		return CodeAccessError
	case errors.Is(err, camera.ErrConfiguration), errors.Is(err, detect.ErrUnsupportedFormat):
		return CodeConfigurationFailed
	}
	return CodeInternal
}

// httpStatus picks the response status for an error code
func httpStatus(code string) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNoDevice, CodeNotImplemented:
		return http.StatusNotFound
	case CodeAlreadyPending, CodeDeviceInUse, CodeStartCancelled:
		return http.StatusConflict
	case CodeAccessError, CodeConfigurationFailed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
