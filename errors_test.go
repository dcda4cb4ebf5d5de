package distlock

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"testing"
)

func ExampleError() {
	fmt.Println(&Error{
		Inner:   nil,
		Kind:    ErrTimeout,
		Message: `lock "job-42" not acquired within 100ms`,
		Op:      "acquire",
	})

	fmt.Println(&Error{
		Inner:   sql.ErrConnDone,
		Kind:    ErrInternal,
		Message: `lock "job-42"`,
		Op:      "release",
	})
	fmt.Println(fmt.Errorf("somepackage: oops: %w", &Error{
		Inner:   sql.ErrConnDone,
		Kind:    ErrInternal,
		Message: `lock "job-42"`,
		Op:      "acquire",
	}))

	// Output:
	// acquire [timeout]: lock "job-42" not acquired within 100ms
	// release [internal]: lock "job-42": sql: connection is already closed
	// somepackage: oops: acquire [internal]: lock "job-42": sql: connection is already closed
}

type kindTestcase struct {
	Err      error
	Invalid  bool
	Timeout  bool
	Internal bool
}

func (tc kindTestcase) Run(t *testing.T) {
	t.Log(tc.Err)
	if got, want := errors.Is(tc.Err, ErrInvalid), tc.Invalid; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrInvalid, got, want)
	}
	if got, want := errors.Is(tc.Err, ErrTimeout), tc.Timeout; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrTimeout, got, want)
	}
	if got, want := errors.Is(tc.Err, ErrInternal), tc.Internal; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrInternal, got, want)
	}
}

func TestErrorKinds(t *testing.T) {
	tt := []kindTestcase{
		// 0: Invalid
		{
			Err: &Error{
				Kind:    ErrInvalid,
				Message: "empty identity",
			},
			Invalid: true,
		},
		// 1: Timeout
		{
			Err: &Error{
				Kind: ErrTimeout,
			},
			Timeout: true,
		},
		// 2: Internal, wrapped further
		{
			Err: fmt.Errorf("wrapped: %w", &Error{
				Inner: errors.New("connection refused"),
				Kind:  ErrInternal,
			}),
			Internal: true,
		},
	}

	for i, tc := range tt {
		t.Run(strconv.Itoa(i), tc.Run)
	}
}
