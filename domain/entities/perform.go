package entities

// PerformRequest identifies one use case execution and carries its inputs.
// Input, Parameters and Security keep their structured form; they are embedded into
// the perform-input response as-is.
type PerformRequest struct {
	Input       any            `json:"input"`
	Parameters  map[string]any `json:"parameters"`
	Security    map[string]any `json:"security"`
	ProfileURL  string         `json:"profile_url" validate:"required"`
	ProviderURL string         `json:"provider_url" validate:"required"`
	MapURL      string         `json:"map_url" validate:"required"`
	Usecase     string         `json:"usecase" validate:"required"`
}

// Exception is a failure the core reports about itself instead of a map result.
type Exception struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// ExceptionInputValidation is the code a core uses when the supplied input failed its
// own schema checks.
const ExceptionInputValidation = "InputValidationError"

// Outcome enumerates how a perform exchange ended.
type Outcome int

const (
	// OutcomeNone means the core has not produced any output yet.
	OutcomeNone Outcome = iota
	// OutcomeResult is a successful map result.
	OutcomeResult
	// OutcomeMapError is an error value defined by the profile.
	OutcomeMapError
	// OutcomeException is a failure reported by the core itself.
	OutcomeException
)

// PerformState records the in-flight perform exchange.
type PerformState struct {
	Request        PerformRequest
	Result         any
	MapError       any
	Exception      *Exception
	Outcome        Outcome
	InputDelivered bool
}

// NewPerformState creates the state for a new exchange.
func NewPerformState(req PerformRequest) *PerformState {
	return &PerformState{Request: req}
}

// Finished reports whether the core already delivered its output.
func (s *PerformState) Finished() bool {
	return s.Outcome != OutcomeNone
}
