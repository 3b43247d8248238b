package model

import "errors"

var (
	// Account errors
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already exists")
	ErrEmailTaken    = errors.New("email already exists")
	ErrUnknownRole   = errors.New("role does not exist")

	// Credential and token errors
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrNoRolesAssigned     = errors.New("user does not have any roles assigned")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenRevoked        = errors.New("token has been revoked")
	ErrTokenNotFound       = errors.New("token not found")
	ErrInvalidAccessToken  = errors.New("invalid access token")

	// Session errors
	ErrNoActiveSession = errors.New("no active login session found for this user")
	ErrLoginFailed     = errors.New("error logging in")
	ErrRefreshFailed   = errors.New("error refreshing token")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)

type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindState          ErrorKind = "state"
	KindPersistence    ErrorKind = "persistence"
)

// KindOf classifies err into the error taxonomy. Unknown errors are
// persistence failures.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrLoginFailed), errors.Is(err, ErrRefreshFailed):
		return KindPersistence
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrNoRolesAssigned),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrInvalidAccessToken):
		return KindAuthentication
	case errors.Is(err, ErrNoActiveSession),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrUnknownRole),
		errors.Is(err, ErrUserNotFound):
		return KindState
	default:
		return KindPersistence
	}
}
