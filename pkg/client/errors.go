package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrMissingToken is returned by New when no credential token is configured.
	ErrMissingToken = errors.New("api token is required")

	// ErrMissingCampaign is returned by campaign-scoped calls without a campaign id.
	ErrMissingCampaign = errors.New("campaign id is required")
)

// unknownErrorMessage is used when the error body carries no message.
const unknownErrorMessage = "Unknown error"

// APIError is a non-200 response from the partner API.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Endpoint   string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Message)
}

// errorBody is the error envelope of the partner API.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Errors  []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// errorMessage extracts the most specific message from an error body:
// top-level message, then the first entry of errors, then a generic fallback.
func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return unknownErrorMessage
	}
	if eb.Message != "" {
		return eb.Message
	}
	if len(eb.Errors) > 0 && eb.Errors[0].Message != "" {
		return eb.Errors[0].Message
	}
	return unknownErrorMessage
}

// ErrorClass represents a classification of failed calls.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassUnexpected represents non-200 statuses outside 4xx/5xx.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// classifyStatus categorizes a non-200 status for metrics and logs.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}
