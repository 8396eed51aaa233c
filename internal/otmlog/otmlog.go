// Copyright 2015 Matthew Holt and The Caddy Authors
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

// Package otmlog constructs the process-wide zap logger and the
// per-component sub-loggers named in SPEC_FULL.md §A, modelled on
// caddy's logging.go (newDefaultProductionLog / Log split) but stripped
// of the dynamic sink/custom-log provisioning system, since there is no
// plugin/config-reload machinery in this repo to provision it from.
package otmlog

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component names used for .Named() sub-loggers, one per SPEC_FULL.md
// module.
const (
	ArchiveIndex     = "archive-index"
	ConfigResolver   = "config-resolver"
	ContentNegotiator = "content-negotiator"
	VersionEngine    = "version-engine"
	Fetcher          = "fetcher"
	ProxyPlugin      = "proxy-plugin"
	ArchiveRefresher = "archive-refresher"
)

var (
	defaultLogger *zap.Logger
	defaultMu     sync.RWMutex
)

func init() {
	l, err := newDefaultProductionLogger()
	if err != nil {
		// Should only fail on a broken zapcore build; fall back to Nop
		// rather than panic during package init.
		l = zap.NewNop()
	}
	defaultLogger = l
}

// newDefaultProductionLogger builds the logger used before Init is
// called: stderr, JSON encoder, info level and above — the same
// defaults as caddy's newDefaultProductionLog.
func newDefaultProductionLogger() (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(os.Stderr), zapcore.InfoLevel)
	return zap.New(core), nil
}

// Init builds the process-wide logger from a level name (trace is
// mapped to zap's debug, as zap has no finer level) and whether stderr
// is a TTY. TTYs get the console encoder for readability; anything else
// (files, pipes, production) gets JSON — mirroring logging.go's
// human-vs-machine split.
func Init(levelName string, isTTY bool) error {
	level, err := parseLevel(levelName)
	if err != nil {
		return err
	}

	var encoder zapcore.Encoder
	if isTTY {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
	logger := zap.New(core)

	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
	return nil
}

func parseLevel(name string) (zapcore.Level, error) {
	switch name {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("otmlog: unknown log level %q", name)
	}
}

// Log returns the current process-wide logger.
func Log() *zap.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Named returns a sub-logger for one of the component constants above.
func Named(component string) *zap.Logger {
	return Log().Named(component)
}
