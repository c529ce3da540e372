package search

import (
	"errors"
	"fmt"
)

// ClientError is a 4xx response.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.StatusCode, e.Message)
}

// ServerError is a 5xx response.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// ConnectionError means no usable response arrived: DNS, TLS, reset or timeout.
type ConnectionError struct {
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	return "connection error: " + e.Message
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Describe returns a short message and the HTTP status (0 when there was none)
// for rendering transport failures as tool output.
func Describe(err error) (string, int) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Message, ce.StatusCode
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message, se.StatusCode
	}
	var conn *ConnectionError
	if errors.As(err, &conn) {
		return conn.Message, 0
	}
	return err.Error(), 0
}
