package hostfuncs

import (
	"fmt"

	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/wireformat"
)

// Error codes answered to the core for failures that have no typed error.
const (
	CodeCapabilityUnavailable = "capability:unavailable"
	CodeInvalidHandle         = "capability:invalid_handle"
	CodePanic                 = "internal:panic"
)

// ErrorCode derives the error_code answered to the core from a typed error.
// The code is "<type>:<code>" or just "<type>" when the error carries no code.
func ErrorCode(err error) string {
	detail := domainerrors.ToErrorDetail(err)
	if detail == nil {
		return ""
	}
	if detail.Code == "" {
		return detail.Type
	}
	return detail.Type + ":" + detail.Code
}

// NewErrorResponse converts a capability failure into the err response the core inspects.
func NewErrorResponse(err error) wireformat.ErrResponse {
	return wireformat.Err(ErrorCode(err), err.Error())
}

// NewNotFoundError answers a message kind no handler is registered for.
func NewNotFoundError(kind wireformat.Kind) wireformat.ErrResponse {
	return wireformat.Err(CodeCapabilityUnavailable, "no capability handles "+string(kind))
}

// NewPanicError answers a message whose handler panicked.
func NewPanicError(panicValue any) wireformat.ErrResponse {
	var msg string
	switch v := panicValue.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		msg = fmt.Sprintf("%v", v)
	}
	return wireformat.Err(CodePanic, "panic: "+msg)
}
