// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/vbank/committee"
	"github.com/blinklabs-io/vbank/database/types"
	"github.com/blinklabs-io/vbank/txs"
)

// Code classifies why a transaction or block was rejected
type Code uint8

const (
	CodeOK Code = iota
	CodeChainUnknown
	CodeTimeSkew
	CodeConflict
	CodeResourceMissing
	CodeResourceTerminal
	CodeSignatureQuorumFailed
	CodeSerializationError
	CodeStorageFailure
	CodeUnknownInternal
	CodeInvalidAmount
	CodeLimitExceeded
	CodeNotEligible
	CodeUnsupportedType
	CodeInvalidAddress
)

var codeNames = map[Code]string{
	CodeOK:                    "ok",
	CodeChainUnknown:          "chain_unknown",
	CodeTimeSkew:              "time_skew",
	CodeConflict:              "conflict",
	CodeResourceMissing:       "resource_missing",
	CodeResourceTerminal:      "resource_terminal",
	CodeSignatureQuorumFailed: "signature_quorum_failed",
	CodeSerializationError:    "serialization_error",
	CodeStorageFailure:        "storage_failure",
	CodeUnknownInternal:       "unknown_internal",
	CodeInvalidAmount:         "invalid_amount",
	CodeLimitExceeded:         "limit_exceeded",
	CodeNotEligible:           "not_eligible",
	CodeUnsupportedType:       "unsupported_type",
	CodeInvalidAddress:        "invalid_address",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

var (
	ErrChainUnknown          = errors.New("chain unknown")
	ErrTimeSkew              = errors.New("transaction time outside block window")
	ErrConflict              = errors.New("conflicting transaction")
	ErrResourceMissing       = errors.New("referenced resource missing")
	ErrResourceTerminal      = errors.New("referenced resource in terminal state")
	ErrSignatureQuorumFailed = errors.New("signature check failed")
	ErrSerialization         = errors.New("serialization error")
	ErrStorageFailure        = errors.New("storage failure")
	ErrInternal              = errors.New("internal error")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrLimitExceeded         = errors.New("limit exceeded")
	ErrNotEligible           = errors.New("not eligible")
	ErrUnsupportedType       = errors.New("unsupported transaction type")
	ErrInvalidAddress        = errors.New("invalid external address")

	// ErrCompensationFailed is returned when undoing applied effects failed
	// and state may be inconsistent
	ErrCompensationFailed = errors.New("compensation failed")
	ErrChainHalted        = errors.New("chain halted")
	ErrHeightMismatch     = errors.New("block height does not follow tip")
	ErrNothingToRevert    = errors.New("no applied block to revert")
)

var codeErrors = []struct {
	err  error
	code Code
}{
	{ErrChainUnknown, CodeChainUnknown},
	{ErrTimeSkew, CodeTimeSkew},
	{ErrConflict, CodeConflict},
	{ErrResourceMissing, CodeResourceMissing},
	{ErrResourceTerminal, CodeResourceTerminal},
	{ErrSignatureQuorumFailed, CodeSignatureQuorumFailed},
	{committee.ErrQuorumNotMet, CodeSignatureQuorumFailed},
	{committee.ErrEmptySignerSet, CodeSignatureQuorumFailed},
	{committee.ErrNotSigned, CodeSignatureQuorumFailed},
	{ErrSerialization, CodeSerializationError},
	{txs.ErrMalformedPayload, CodeSerializationError},
	{txs.ErrMalformedTransaction, CodeSerializationError},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrLimitExceeded, CodeLimitExceeded},
	{ErrNotEligible, CodeNotEligible},
	{ErrUnsupportedType, CodeUnsupportedType},
	{ErrInvalidAddress, CodeInvalidAddress},
	{types.ErrDuplicateKey, CodeConflict},
	{ErrStorageFailure, CodeStorageFailure},
	{ErrInternal, CodeUnknownInternal},
}

// CodeOf maps an error to its rejection code. Unclassified errors are
// CodeUnknownInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeUnknownInternal
}

// Reject returns an error of the given class with a formatted detail
func Reject(class error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", class, fmt.Sprintf(format, args...))
}

// Storage marks err as a storage failure
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}
