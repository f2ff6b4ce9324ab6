package apperrors

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError   ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrorCodeConflict        ErrorCode = "CONFLICT"

	ErrorCodeAuthFailed       ErrorCode = "AUTH_FAILED"
	ErrorCodeAuthTokenExpired ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid ErrorCode = "AUTH_TOKEN_INVALID"

	ErrorCodeDeviceNotFound ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeDeviceOffline  ErrorCode = "DEVICE_OFFLINE"

	ErrorCodePlaylistNotFound ErrorCode = "PLAYLIST_NOT_FOUND"
	ErrorCodeItemNotFound     ErrorCode = "PLAYLIST_ITEM_NOT_FOUND"
	ErrorCodeInvalidSchedule  ErrorCode = "INVALID_SCHEDULE"

	ErrorCodeLicenseMalformed   ErrorCode = "LICENSE_KEY_MALFORMED"
	ErrorCodeLicenseSignature   ErrorCode = "LICENSE_INVALID_SIGNATURE"
	ErrorCodeLicenseExpired     ErrorCode = "LICENSE_EXPIRED"
	ErrorCodeLicenseDenied      ErrorCode = "LICENSE_DENIED"
	ErrorCodeLicenseNotFound    ErrorCode = "LICENSE_NOT_FOUND"

	ErrorCodeBroadcastNotActive ErrorCode = "BROADCAST_NOT_ACTIVE"
	ErrorCodeEventNotFound      ErrorCode = "EVENT_NOT_FOUND"
	ErrorCodeScreenshotNotFound ErrorCode = "SCREENSHOT_NOT_FOUND"
)

// ErrorType categorizes errors following Stripe API conventions.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeAuthError indicates authentication or authorization failure.
	ErrorTypeAuthError ErrorType = "authentication_error"
)

// StripeErrorBody is the serialized error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type StripeErrorBody struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

// StripeErrorBody returns the error in Stripe API format.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return StripeErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 401, nil)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrorCodeForbidden, message, 403, nil)
}

func NewNotFoundError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeNotFound, message, 404, details)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, 404, details)
}

func NewConflictError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeConflict, message, 409, details)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError("Internal server error")
}
