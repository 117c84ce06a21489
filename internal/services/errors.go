package services

import (
	"errors"

	"github.com/charlesng35/robotdesk/internal/robot"
)

var (
	// ErrVerificationNotFound indicates no record holds the supplied token value.
	ErrVerificationNotFound = errors.New("email verification: not found")
	// ErrVerificationExpired indicates the record exists but its token is superseded, consumed or past its window.
	ErrVerificationExpired = errors.New("email verification: expired")
	// ErrVerificationExists indicates a verification record was already issued for the user.
	ErrVerificationExists = errors.New("email verification: record already exists")

	// ErrCredentialsNotFound indicates the user has not configured robot credentials.
	ErrCredentialsNotFound = errors.New("robot credentials: not configured")
	// ErrMissingCredentials indicates client id or secret is empty.
	ErrMissingCredentials = errors.New("robot credentials: client id or secret missing")
	// ErrTokenUnavailable indicates no unexpired bearer token is cached.
	ErrTokenUnavailable = errors.New("robot credentials: token unavailable")

	// ErrMalformedResponse mirrors the robot client sentinel for callers of this package.
	ErrMalformedResponse = robot.ErrMalformedResponse
	// ErrNetwork mirrors the robot client sentinel for callers of this package.
	ErrNetwork = robot.ErrNetwork
	// ErrRefreshThrottled mirrors the robot client sentinel for callers of this package.
	ErrRefreshThrottled = robot.ErrThrottled
)

// UpstreamRejectedError is returned when the robot API answers with a non-2xx status.
type UpstreamRejectedError = robot.UpstreamRejectedError
