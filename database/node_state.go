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

package database

import (
	"strconv"
)

// GetNodeState returns a local node value, or an empty string when unset
func (d *Database) GetNodeState(name string, txn *Txn) (string, error) {
	return d.metadata.GetNodeState(name, txn.Metadata())
}

func (d *Database) SetNodeState(name string, value string, txn *Txn) error {
	return d.metadata.SetNodeState(name, value, txn.Metadata())
}

func (d *Database) DeleteNodeState(name string, txn *Txn) error {
	return d.metadata.DeleteNodeState(name, txn.Metadata())
}

// GetNodeFlag returns a boolean node value. Unset reads as false.
func (d *Database) GetNodeFlag(name string, txn *Txn) (bool, error) {
	val, err := d.GetNodeState(name, txn)
	if err != nil || val == "" {
		return false, err
	}
	return strconv.ParseBool(val)
}

func (d *Database) SetNodeFlag(name string, value bool, txn *Txn) error {
	return d.SetNodeState(name, strconv.FormatBool(value), txn)
}
