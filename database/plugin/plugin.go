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

package plugin

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type PluginType int

const (
	PluginTypeBlob PluginType = iota + 1
	PluginTypeMetadata
)

func PluginTypeName(pluginType PluginType) string {
	switch pluginType {
	case PluginTypeBlob:
		return "blob"
	case PluginTypeMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

type Plugin interface {
	Start() error
	Stop() error
}

// Options is passed to a plugin constructor
type Options struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DataDir      string
}

type PluginEntry struct {
	NewFunc     func(Options) (Plugin, error)
	Name        string
	Description string
	Type        PluginType
}

var (
	pluginEntries   []PluginEntry
	pluginEntriesMu sync.RWMutex
)

// Register adds a plugin to the registry. Registering the same type and
// name again replaces the earlier entry.
func Register(entry PluginEntry) {
	pluginEntriesMu.Lock()
	defer pluginEntriesMu.Unlock()
	for i, p := range pluginEntries {
		if p.Type == entry.Type && p.Name == entry.Name {
			pluginEntries[i] = entry
			return
		}
	}
	pluginEntries = append(pluginEntries, entry)
}

// GetPlugins returns the registered plugins of a type sorted by name
func GetPlugins(pluginType PluginType) []PluginEntry {
	pluginEntriesMu.RLock()
	defer pluginEntriesMu.RUnlock()
	ret := []PluginEntry{}
	for _, p := range pluginEntries {
		if p.Type == pluginType {
			ret = append(ret, p)
		}
	}
	slices.SortFunc(ret, func(a, b PluginEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return ret
}

func getEntry(pluginType PluginType, pluginName string) (PluginEntry, bool) {
	pluginEntriesMu.RLock()
	defer pluginEntriesMu.RUnlock()
	for _, p := range pluginEntries {
		if p.Type == pluginType && p.Name == pluginName {
			return p, true
		}
	}
	return PluginEntry{}, false
}

// StartPlugin creates a plugin from the registry and starts it
func StartPlugin(
	pluginType PluginType,
	pluginName string,
	opts Options,
) (Plugin, error) {
	entry, ok := getEntry(pluginType, pluginName)
	if !ok {
		return nil, fmt.Errorf(
			"%s plugin '%s' not found",
			PluginTypeName(pluginType),
			pluginName,
		)
	}
	p, err := entry.NewFunc(opts)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to create %s plugin '%s': %w",
			PluginTypeName(pluginType),
			pluginName,
			err,
		)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf(
			"failed to start %s plugin '%s': %w",
			PluginTypeName(pluginType),
			pluginName,
			err,
		)
	}
	return p, nil
}
