package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/gridcast/pkg/errors"
)

// Example demonstrates basic error creation with context.
func Example() {
	err := errors.New(errors.ErrorTypePrecondition, "aligner has not been fitted").
		WithDetail("artifact", "saved_models/preprocessor.json.zst")

	fmt.Println(err.Error())

	// Output:
	// precondition: aligner has not been fitted
}

// ExampleWrap shows how wrapped errors keep their cause.
func ExampleWrap() {
	err := errors.Wrap(io.EOF, errors.ErrorTypeFile, "failed to read CSV chunk").
		WithDetail("file", "weather_train.csv")

	if errors.IsType(err, errors.ErrorTypeFile) {
		fmt.Println("file error")
	}
	if errors.Is(err, io.EOF) {
		fmt.Println("caused by EOF")
	}

	// Output:
	// file error
	// caused by EOF
}

// ExampleIsRetryable shows which errors a fallback chain may recover from.
func ExampleIsRetryable() {
	remote := errors.New(errors.ErrorTypeTimeout, "registry did not answer")
	missing := errors.New(errors.ErrorTypeUnavailable, "model unavailable")

	fmt.Println(errors.IsRetryable(remote))
	fmt.Println(errors.IsRetryable(missing))
	fmt.Println(errors.IsRetryable(io.EOF))

	// Output:
	// true
	// false
	// false
}

// ExampleTypeOf shows how the HTTP boundary classifies errors.
func ExampleTypeOf() {
	wrapped := fmt.Errorf("predict: %w", errors.New(errors.ErrorTypeUnavailable, "model unavailable"))

	fmt.Println(errors.TypeOf(wrapped))
	fmt.Println(errors.TypeOf(io.EOF))

	// Output:
	// unavailable
	// internal
}
