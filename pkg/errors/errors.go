package errors

import "fmt"

// Error types for the credential authorizer API
var (
	// ErrInvalidRequest is used for syntactically invalid requests (missing or
	// malformed parameters) where a 400 response is appropriate.
	ErrInvalidRequest = &ServiceError{
		Code:    "INVALID_REQUEST",
		Message: "Invalid request",
		Status:  400,
	}

	ErrUnknownSession = &ServiceError{
		Code:    "UNKNOWN_SESSION",
		Message: "Browser session not found",
		Status:  404,
	}

	ErrUnknownFlow = &ServiceError{
		Code:    "UNKNOWN_FLOW",
		Message: "Authorization flow not found",
		Status:  404,
	}

	ErrCredentialNotFound = &ServiceError{
		Code:    "CREDENTIAL_NOT_FOUND",
		Message: "Credential not found",
		Status:  404,
	}

	ErrUnknownProvider = &ServiceError{
		Code:    "UNKNOWN_PROVIDER",
		Message: "Provider is not configured",
		Status:  404,
	}

	ErrFlowBusy = &ServiceError{
		Code:    "FLOW_BUSY",
		Message: "A provider call is in progress",
		Status:  409,
	}

	ErrInvalidTransition = &ServiceError{
		Code:    "INVALID_TRANSITION",
		Message: "Event is not valid in the current state",
		Status:  409,
	}

	ErrSaveBlocked = &ServiceError{
		Code:    "SAVE_BLOCKED",
		Message: "Credential cannot be saved in the current state",
		Status:  409,
	}

	ErrRateLimitExceeded = &ServiceError{
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "Rate limit exceeded",
		Status:  429,
	}

	ErrProviderUnavailable = &ServiceError{
		Code:    "PROVIDER_UNAVAILABLE",
		Message: "Identity provider could not be reached",
		Status:  502,
	}

	ErrServiceUnavailable = &ServiceError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: "Service is shutting down",
		Status:  503,
	}

	ErrInternalServer = &ServiceError{
		Code:    "INTERNAL_SERVER_ERROR",
		Message: "Internal server error",
		Status:  500,
	}
)

// ServiceError represents a service-level error
type ServiceError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Wrap wraps an error with a ServiceError
func Wrap(err error, serviceErr *ServiceError) *ServiceError {
	return &ServiceError{
		Code:    serviceErr.Code,
		Message: serviceErr.Message,
		Status:  serviceErr.Status,
		Err:     err,
	}
}
