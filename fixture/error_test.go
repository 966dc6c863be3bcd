// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixture

import (
	"fmt"
	"testing"
)

// TestErrorCodeStringer tests the stringized output for the ErrorCode type.
func TestErrorCodeStringer(t *testing.T) {
	tests := []struct {
		in   ErrorCode
		want string
	}{
		{ErrNoInputs, "ErrNoInputs"},
		{ErrTooManyInputs, "ErrTooManyInputs"},
		{ErrTooManyOutputs, "ErrTooManyOutputs"},
		{ErrNonPositiveFee, "ErrNonPositiveFee"},
		{ErrNonPositiveValue, "ErrNonPositiveValue"},
		{ErrIncompleteSignature, "ErrIncompleteSignature"},
		{ErrOutputNotFound, "ErrOutputNotFound"},
		{ErrAddressReuse, "ErrAddressReuse"},
		{ErrPoolExhausted, "ErrPoolExhausted"},
		{ErrDoubleSpend, "ErrDoubleSpend"},
		{ErrInvalidFixture, "ErrInvalidFixture"},
		{ErrFixtureMismatch, "ErrFixtureMismatch"},
		{ErrDataOutputValue, "ErrDataOutputValue"},
		{0xffff, "Unknown ErrorCode (65535)"},
	}

	// Detect additional error codes that don't have the stringer added.
	if len(tests)-1 != int(numErrorCodes) {
		t.Errorf("It appears an error code was added without adding an " +
			"associated stringer test")
	}

	t.Logf("Running %d tests", len(tests))
	for i, test := range tests {
		result := test.in.String()
		if result != test.want {
			t.Errorf("String #%d\n got: %s want: %s", i, result,
				test.want)
			continue
		}
	}
}

// TestIsErrorCode ensures wrapped construction errors are still matched.
func TestIsErrorCode(t *testing.T) {
	err := fmt.Errorf("scenario wide_frontier_32: %w",
		NewError(ErrPoolExhausted, "pool is empty"))

	if !IsErrorCode(err, ErrPoolExhausted) {
		t.Fatalf("wrapped error lost its code: %v", err)
	}
	if IsErrorCode(err, ErrDoubleSpend) {
		t.Fatalf("wrapped error matched the wrong code")
	}
	if IsErrorCode(fmt.Errorf("plain"), ErrPoolExhausted) {
		t.Fatalf("plain error matched a construction code")
	}
	if got := err.Error(); got != "scenario wide_frontier_32: pool is empty" {
		t.Fatalf("unexpected message %q", got)
	}
}
