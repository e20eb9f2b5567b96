package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "HEAD request failed").
		WithDetail("url", "https://example.com/data.csv").
		WithDetail("status", 503)

	fmt.Println(err.Error())

	// Output:
	// connection: HEAD request failed
}

// ExampleWrap shows how to wrap an underlying error and keep it reachable.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeFormat, "failed to parse CSV stream").
		WithDetail("stream", "people.csv")

	fmt.Println(errors.IsType(err, errors.ErrorTypeFormat))
	fmt.Println(errors.Is(err, io.ErrUnexpectedEOF))

	// Output:
	// true
	// true
}

// ExampleIsRecoverable shows how callers decide between re-prompting and aborting.
func ExampleIsRecoverable() {
	cfgErr := errors.New(errors.ErrorTypeConfig, "missing parameter uris")
	permErr := errors.New(errors.ErrorTypePermission, "NOT_AUTHORIZED")

	fmt.Println(errors.IsRecoverable(cfgErr), errors.ExitCode(cfgErr))
	fmt.Println(errors.IsRecoverable(permErr), errors.ExitCode(permErr))

	// Output:
	// true 2
	// false 3
}
