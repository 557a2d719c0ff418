package wireformat

import "github.com/oneclient-dev/oneclient-host/domain/entities"

// Response kinds sent by the host.
const (
	ResponseOk  = "ok"
	ResponseErr = "err"
)

// OkResponse acknowledges a message that has no response payload.
type OkResponse struct {
	Kind string `json:"kind"`
}

// ErrResponse reports a failure to the core as a value it can inspect.
type ErrResponse struct {
	Kind      string `json:"kind"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// PerformInputOk answers perform-input with the request of the current perform.
type PerformInputOk struct {
	MapInput      any    `json:"map_input"`
	MapParameters any    `json:"map_parameters"`
	MapSecurity   any    `json:"map_security"`
	Kind          string `json:"kind"`
	ProfileURL    string `json:"profile_url"`
	ProviderURL   string `json:"provider_url"`
	MapURL        string `json:"map_url"`
	Usecase       string `json:"usecase"`
}

// HTTPCallOk answers http-call with the handle of the pending request.
type HTTPCallOk struct {
	Kind   string `json:"kind"`
	Handle uint32 `json:"handle"`
}

// HTTPCallHeadOk answers http-call-head with the response head and a body stream.
type HTTPCallHeadOk struct {
	Headers    entities.Multimap `json:"headers"`
	Kind       string            `json:"kind"`
	Status     int               `json:"status"`
	BodyStream uint32            `json:"body_stream"`
}

// FileOpenOk answers file-open with a stream handle.
type FileOpenOk struct {
	Kind   string `json:"kind"`
	Stream uint32 `json:"stream"`
}

// Ok returns an empty acknowledgement.
func Ok() OkResponse {
	return OkResponse{Kind: ResponseOk}
}

// Err returns an error response with the given code and message.
func Err(code, message string) ErrResponse {
	return ErrResponse{Kind: ResponseErr, ErrorCode: code, Message: message}
}
