// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixture

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of construction error.
type ErrorCode int

// These constants are used to identify a specific ConstructionError.
const (
	// ErrNoInputs indicates a spend was requested without any inputs.
	ErrNoInputs ErrorCode = iota

	// ErrTooManyInputs indicates a spend references more inputs than a
	// single transaction is allowed to carry.
	ErrTooManyInputs

	// ErrTooManyOutputs indicates a spend requests more outputs than a
	// single transaction is allowed to carry.
	ErrTooManyOutputs

	// ErrNonPositiveFee indicates the requested outputs consume the whole
	// input value or more.
	ErrNonPositiveFee

	// ErrNonPositiveValue indicates an output value, or a merged group
	// value after fees, is zero or negative.
	ErrNonPositiveValue

	// ErrIncompleteSignature indicates the wallet could not sign every
	// input of a transaction.
	ErrIncompleteSignature

	// ErrOutputNotFound indicates a destination address is missing from
	// the outputs of the broadcast transaction.
	ErrOutputNotFound

	// ErrAddressReuse indicates the wallet handed out an address that was
	// already used earlier in the run.
	ErrAddressReuse

	// ErrPoolExhausted indicates a draw from an empty UTXO pool.
	ErrPoolExhausted

	// ErrDoubleSpend indicates an outpoint was consumed by two
	// transactions that are not a deliberate replacement pair.
	ErrDoubleSpend

	// ErrInvalidFixture indicates a fixture artifact failed structural
	// validation.
	ErrInvalidFixture

	// ErrFixtureMismatch indicates a scenario asserts something that does
	// not match the transactions actually constructed.
	ErrFixtureMismatch

	// ErrDataOutputValue indicates a data carrier output was given a
	// non-zero value.
	ErrDataOutputValue

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrNoInputs:            "ErrNoInputs",
	ErrTooManyInputs:       "ErrTooManyInputs",
	ErrTooManyOutputs:      "ErrTooManyOutputs",
	ErrNonPositiveFee:      "ErrNonPositiveFee",
	ErrNonPositiveValue:    "ErrNonPositiveValue",
	ErrIncompleteSignature: "ErrIncompleteSignature",
	ErrOutputNotFound:      "ErrOutputNotFound",
	ErrAddressReuse:        "ErrAddressReuse",
	ErrPoolExhausted:       "ErrPoolExhausted",
	ErrDoubleSpend:         "ErrDoubleSpend",
	ErrInvalidFixture:      "ErrInvalidFixture",
	ErrFixtureMismatch:     "ErrFixtureMismatch",
	ErrDataOutputValue:     "ErrDataOutputValue",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ConstructionError identifies a violated construction invariant.  These are
// never retried: the run is aborted and no artifact is written.  The caller
// can use errors.As or IsErrorCode to access the ErrorCode field.
type ConstructionError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e ConstructionError) Error() string {
	return e.Description
}

// NewError creates a ConstructionError given a set of arguments.
func NewError(c ErrorCode, desc string) ConstructionError {
	return ConstructionError{ErrorCode: c, Description: desc}
}

// Errorf creates a ConstructionError with a formatted description.
func Errorf(c ErrorCode, format string, args ...interface{}) ConstructionError {
	return NewError(c, fmt.Sprintf(format, args...))
}

// IsErrorCode returns whether err is, or wraps, a ConstructionError with the
// given error code.
func IsErrorCode(err error, c ErrorCode) bool {
	var cerr ConstructionError
	return errors.As(err, &cerr) && cerr.ErrorCode == c
}
