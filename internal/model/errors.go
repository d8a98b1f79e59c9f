package model

import "errors"

var (
	// ErrInvalidUsername means the identity provider does not know the account.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword means the password was rejected.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidChallengeCode means the submitted verification code was wrong or expired.
	ErrInvalidChallengeCode = errors.New("invalid challenge code")
	// ErrAPIUnavailable covers network failures, timeouts and unexpected upstream responses.
	ErrAPIUnavailable = errors.New("api unavailable")
	// ErrReauthRequired means stored credentials can no longer be refreshed.
	ErrReauthRequired = errors.New("reauthentication required")
	// ErrUnknownEntity means the entity id was never registered.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrUnsupportedCommand means the device capability does not accept the command.
	ErrUnsupportedCommand = errors.New("unsupported command")
	// ErrNotFound means a catalog or store lookup found nothing.
	ErrNotFound = errors.New("not found")
)
