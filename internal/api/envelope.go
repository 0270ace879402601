package api

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/listenup-captions/internal/http/response"
)

// EnvelopeVersion is the response envelope schema version.
const EnvelopeVersion = response.Version

// APIEnvelope wraps every successful body and plain errors.
type APIEnvelope struct { //nolint:revive // API prefix is intentional for clarity
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// APIErrorEnvelope carries a coded error.
type APIErrorEnvelope struct { //nolint:revive // API prefix is intentional for clarity
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// EnvelopeTransformer is a huma transformer that wraps response bodies.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	if len(status) == 0 || status[0] < '4' {
		return APIEnvelope{Version: EnvelopeVersion, Success: true, Data: v}, nil
	}

	err, ok := v.(error)
	if !ok {
		return APIEnvelope{Version: EnvelopeVersion, Data: v}, nil
	}
	if apiErr, ok := asAPIError(err); ok {
		return APIErrorEnvelope{
			Version: EnvelopeVersion,
			Error:   apiErr.Message,
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		}, nil
	}
	return APIEnvelope{Version: EnvelopeVersion, Error: err.Error()}, nil
}
