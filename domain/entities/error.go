package entities

import "fmt"

// ErrorDetail is the structured form of a capability failure.
// Its Type and Code make up the error_code answered to the core.
// Types: "network", "timeout", "filesystem", "capability", "protocol", "config", "internal"
type ErrorDetail struct {
	// Message is a human-readable error description.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Code is a machine-readable error code within Type.
	Code string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" && e.Type != "internal" {
		msg = fmt.Sprintf("%s: %s", e.Type, msg)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	return msg
}
