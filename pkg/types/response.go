package types

// SuccessEnvelope wraps every successful API payload.
type SuccessEnvelope struct {
	IsSuccess bool `json:"isSuccess"`
	Data      any  `json:"data"`
}

// ErrorEnvelope is the flat error body returned by every endpoint.
type ErrorEnvelope struct {
	IsSuccess bool   `json:"isSuccess"`
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}
