// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger implements the structured logger used throughout the
// filesystem. It wraps log/slog with severity levels that match
// cfg.LogSeverity, rotates its output file through lumberjack, and buffers
// writes through an AsyncLogger so that a slow disk never blocks a caller
// on the I/O path (spec.md §5: logging must not become a suspension point).
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/nvfuse/nvfuse/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels: slog's standard four plus TRACE below them and OFF above
// them, matching cfg.LogSeverity's TRACE/OFF extremes.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = slog.LevelError + 4
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

type loggerFactory struct {
	file      *os.File
	rotator   *lumberjack.Logger
	asyncLog  *AsyncLogger
	format    string
	level     cfg.LogSeverity
	programLv *slog.LevelVar
}

var (
	defaultLoggerFactory = &loggerFactory{
		level:     cfg.InfoLogSeverity,
		programLv: new(slog.LevelVar),
	}
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(os.Stderr, defaultLoggerFactory.programLv))
)

func (f *loggerFactory) createHandler(w io.Writer, lv *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: lv,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				if name, ok := levelNames[level]; ok {
					a.Key = "severity"
					a.Value = slog.StringValue(name)
				}
			}
			return a
		},
	}
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func setLoggingLevel(severity cfg.LogSeverity, lv *slog.LevelVar) {
	switch severity {
	case cfg.TraceLogSeverity:
		lv.Set(LevelTrace)
	case cfg.DebugLogSeverity:
		lv.Set(LevelDebug)
	case cfg.WarningLogSeverity:
		lv.Set(LevelWarn)
	case cfg.ErrorLogSeverity:
		lv.Set(LevelError)
	case cfg.OffLogSeverity:
		lv.Set(LevelOff)
	default:
		lv.Set(LevelInfo)
	}
}

// Init configures the default logger from the resolved configuration. It
// opens the log-rotate writer, wraps it in an AsyncLogger, and rebuilds the
// handler at the requested severity and format.
func Init(c cfg.LoggingConfig, format string) error {
	defaultLoggerFactory.level = c.Severity
	defaultLoggerFactory.format = format

	var w io.Writer = os.Stderr
	if c.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.LogRotate.MaxFileSizeMb,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
		defaultLoggerFactory.rotator = rotator
		defaultLoggerFactory.asyncLog = NewAsyncLogger(rotator, 4096)
		w = defaultLoggerFactory.asyncLog
	}

	setLoggingLevel(c.Severity, defaultLoggerFactory.programLv)
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(w, defaultLoggerFactory.programLv))
	return nil
}

// Close flushes and closes the async log writer, if one is in use.
func Close() error {
	if defaultLoggerFactory.asyncLog != nil {
		return defaultLoggerFactory.asyncLog.Close()
	}
	return nil
}

func Tracef(format string, v ...any) { defaultLogger.Log(nil, LevelTrace, sprintf(format, v...)) }
func Debugf(format string, v ...any) { defaultLogger.Log(nil, LevelDebug, sprintf(format, v...)) }
func Infof(format string, v ...any)  { defaultLogger.Log(nil, LevelInfo, sprintf(format, v...)) }
func Warnf(format string, v ...any)  { defaultLogger.Log(nil, LevelWarn, sprintf(format, v...)) }
func Errorf(format string, v ...any) { defaultLogger.Log(nil, LevelError, sprintf(format, v...)) }
