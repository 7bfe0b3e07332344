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

package badger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// BadgerLogger adapts slog to the badger.Logger interface
type BadgerLogger struct {
	logger *slog.Logger
}

func NewBadgerLogger(logger *slog.Logger) *BadgerLogger {
	return &BadgerLogger{logger: logger}
}

func (b *BadgerLogger) log(level slog.Level, msg string, args ...any) {
	b.logger.Log(
		context.Background(),
		level,
		strings.TrimSpace(fmt.Sprintf(msg, args...)),
		"component", "database",
	)
}

func (b *BadgerLogger) Errorf(msg string, args ...any) {
	b.log(slog.LevelError, msg, args...)
}

func (b *BadgerLogger) Warningf(msg string, args ...any) {
	b.log(slog.LevelWarn, msg, args...)
}

func (b *BadgerLogger) Infof(msg string, args ...any) {
	b.log(slog.LevelInfo, msg, args...)
}

func (b *BadgerLogger) Debugf(msg string, args ...any) {
	b.log(slog.LevelDebug, msg, args...)
}
