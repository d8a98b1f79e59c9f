package cognito

import (
	"errors"
	"fmt"
	"strings"

	"github.com/micro-ha/hive-bridge/internal/model"
)

// ErrDeviceTrackingUnavailable means the last login did not offer a device to remember.
var ErrDeviceTrackingUnavailable = errors.New("identity provider did not offer device tracking")

// ServiceError is an error document returned by the identity provider.
type ServiceError struct {
	Status  int
	Type    string
	Message string
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "identity service error"
	}
	return fmt.Sprintf("identity service error %d %s: %s", e.Status, e.Type, e.Message)
}

// Unwrap maps the provider's exception type onto the shared error taxonomy.
func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	switch e.Type {
	case "UserNotFoundException":
		return model.ErrInvalidUsername
	case "NotAuthorizedException", "PasswordResetRequiredException", "UserNotConfirmedException":
		return model.ErrInvalidPassword
	case "CodeMismatchException", "ExpiredCodeException":
		return model.ErrInvalidChallengeCode
	default:
		return model.ErrAPIUnavailable
	}
}

// exceptionType strips the optional namespace prefix from an error type.
func exceptionType(raw string) string {
	if idx := strings.LastIndex(raw, "#"); idx >= 0 {
		raw = raw[idx+1:]
	}
	if idx := strings.Index(raw, ":"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw)
}
