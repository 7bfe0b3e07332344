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

package testutil

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/blinklabs-io/vbank/docking"
)

// ErrInjected is returned by FakeAdapter calls while a failure is injected
var ErrInjected = errors.New("injected adapter failure")

// FakeAdapter is an in-memory docking adapter that records every call.
// Valid addresses start with "0x".
type FakeAdapter struct {
	failures map[string]int
	calls    []string
	mu       sync.Mutex
	chainID  uint16
}

func NewFakeAdapter(chainID uint16) *FakeAdapter {
	return &FakeAdapter{
		chainID:  chainID,
		failures: make(map[string]int),
	}
}

// FailNext makes the next n calls of method fail with ErrInjected
func (f *FakeAdapter) FailNext(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = n
}

// Calls returns the recorded calls as "method:arg"
func (f *FakeAdapter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how many successful calls of method were recorded
func (f *FakeAdapter) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, method+":") {
			count++
		}
	}
	return count
}

func (f *FakeAdapter) record(method string, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[method] > 0 {
		f.failures[method]--
		return ErrInjected
	}
	f.calls = append(f.calls, method+":"+arg)
	return nil
}

func (f *FakeAdapter) ChainID() uint16 {
	return f.chainID
}

func (f *FakeAdapter) ValidateAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && len(addr) > 2
}

func (f *FakeAdapter) GenerateAddress(pubKey []byte) (string, error) {
	if len(pubKey) < 20 {
		return "", errors.New("public key too short")
	}
	return "0x" + hex.EncodeToString(pubKey[len(pubKey)-20:]), nil
}

func (f *FakeAdapter) TxConfirmedCheck(
	_ context.Context,
	externalTxHash string,
	_ uint64,
	_ string,
	_ []byte,
) error {
	return f.record("check", externalTxHash)
}

func (f *FakeAdapter) TxConfirmedCompleted(
	_ context.Context,
	externalTxHash string,
	_ uint64,
	_ string,
	_ []byte,
) error {
	return f.record("complete", externalTxHash)
}

func (f *FakeAdapter) TxConfirmedRollback(
	_ context.Context,
	externalTxHash string,
) error {
	return f.record("rollback", externalTxHash)
}

func (f *FakeAdapter) ChangeManagers(
	_ context.Context,
	change docking.ManagerChange,
) error {
	return f.record("change", change.Key)
}

func (f *FakeAdapter) SendWithdrawal(
	_ context.Context,
	w docking.Withdrawal,
) error {
	return f.record("withdraw", w.Key)
}
