package api

import (
	"regexp"

	"github.com/google/uuid"
)

const (
	requestIDPrefix = "req_"
	sessionIDPrefix = "sess_"
)

var (
	requestIDPattern = regexp.MustCompile(`^req_[0-9a-f-]{36}$`)
	sessionIDPattern = regexp.MustCompile(`^sess_[0-9a-f-]{36}$`)
)

// NewRequestID generates a correlation ID for one wire request. The ID is
// echoed back by the worker and used to pair responses with requests.
func NewRequestID() string {
	return requestIDPrefix + uuid.NewString()
}

// NewSessionID generates a fresh session identifier for callers that do not
// supply their own.
func NewSessionID() string {
	return sessionIDPrefix + uuid.NewString()
}

// ValidateRequestID checks whether the given string is a generated request ID.
func ValidateRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}

// ValidateSessionID checks whether the given string is a generated session ID.
// Caller-chosen session IDs need not match; this validates only IDs minted by
// NewSessionID.
func ValidateSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
