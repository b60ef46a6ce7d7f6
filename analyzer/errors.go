package analyzer

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned when a model answers without any text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ErrorClass groups remote failures by what the user can do about them.
type ErrorClass string

const (
	ErrorClassAuth    ErrorClass = "auth"    // bad or missing API key
	ErrorClassQuota   ErrorClass = "quota"   // rate limited or out of quota
	ErrorClassPolicy  ErrorClass = "policy"  // request refused by the model
	ErrorClassClient  ErrorClass = "client"  // other 4xx
	ErrorClassServer  ErrorClass = "server"  // 5xx
	ErrorClassNetwork ErrorClass = "network" // never got a response
)

// RemoteError is a failed call to the model service.
type RemoteError struct {
	Backend    string
	StatusCode int // 0 when no response was received
	Class      ErrorClass
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s error: %s", e.Backend, e.Class, e.Message)
	}
	return fmt.Sprintf("%s %s error (status %d): %s", e.Backend, e.Class, e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code from a model service to an
// ErrorClass.
func ClassifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorClassAuth
	case code == http.StatusTooManyRequests:
		return ErrorClassQuota
	case code >= 500:
		return ErrorClassServer
	case code >= 400:
		return ErrorClassClient
	default:
		return ErrorClassNetwork
	}
}
