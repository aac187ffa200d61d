package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when the remote call succeeded at the transport
// level but produced no usable candidate.
var ErrEmptyResponse = errors.New("no response generated")

// TransportError reports a non-success HTTP outcome or a network failure.
// StatusCode is 0 when no response was received.
type TransportError struct {
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("API request failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": %d", e.StatusCode)
		if e.Status != "" {
			b.WriteString(" " + e.Status)
		}
	}
	switch {
	case e.Message != "":
		b.WriteString(": " + e.Message)
	case e.Err != nil:
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
