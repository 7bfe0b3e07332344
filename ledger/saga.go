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

	"github.com/blinklabs-io/vbank/database"
)

// Effect is one state change paired with its inverse
type Effect struct {
	Name   string
	Apply  func(txn *database.Txn) error
	Revert func(txn *database.Txn) error
}

// Saga records applied effects so they can be undone in reverse order
type Saga struct {
	applied []Effect
}

func NewSaga() *Saga {
	return &Saga{}
}

// Len returns the number of applied effects
func (s *Saga) Len() int {
	if s == nil {
		return 0
	}
	return len(s.applied)
}

// Names returns the names of the applied effects in apply order
func (s *Saga) Names() []string {
	if s == nil {
		return nil
	}
	ret := make([]string, 0, len(s.applied))
	for _, e := range s.applied {
		ret = append(ret, e.Name)
	}
	return ret
}

// Apply runs the effects in order as one group. If one fails, the effects
// of the group already applied are reverted before returning, so either all
// of them are recorded or none are.
func (s *Saga) Apply(txn *database.Txn, effects ...Effect) error {
	for i, e := range effects {
		if err := e.Apply(txn); err != nil {
			applyErr := fmt.Errorf("%s: %w", e.Name, err)
			if undoErr := revertAll(effects[:i], txn); undoErr != nil {
				return errors.Join(applyErr, undoErr)
			}
			return applyErr
		}
	}
	s.applied = append(s.applied, effects...)
	return nil
}

// Record adds an effect that has already been applied
func (s *Saga) Record(e Effect) {
	s.applied = append(s.applied, e)
}

// Extend appends the effects of other, which must have been applied after
// those of s
func (s *Saga) Extend(other *Saga) {
	if other == nil {
		return
	}
	s.applied = append(s.applied, other.applied...)
}

// Unwind reverts every applied effect in reverse order and empties the saga.
// Every inverse is attempted; failures are joined and wrapped in
// ErrCompensationFailed.
func (s *Saga) Unwind(txn *database.Txn) error {
	if s == nil {
		return nil
	}
	err := revertAll(s.applied, txn)
	s.applied = nil
	return err
}

func revertAll(effects []Effect, txn *database.Txn) error {
	var errs []error
	for i := len(effects) - 1; i >= 0; i-- {
		e := effects[i]
		if e.Revert == nil {
			continue
		}
		if err := e.Revert(txn); err != nil {
			errs = append(errs, fmt.Errorf("revert %s: %w", e.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCompensationFailed, errors.Join(errs...))
	}
	return nil
}
