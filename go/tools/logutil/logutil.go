// Copyright 2026 TechEmpower, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil turns logging configuration into a slog.Logger.
// File outputs rotate through lumberjack.
package logutil

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the logging configuration. The rotation fields only
// apply when Output is a file path.
type Config struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
	Output string `yaml:"Output"`

	MaxSizeMB  int `yaml:"MaxSizeMB"`
	MaxBackups int `yaml:"MaxBackups"`
	MaxAgeDays int `yaml:"MaxAgeDays"`
}

// DefaultConfig returns the logging defaults: info-level JSON on
// stdout, file rotation at 100 MB keeping 3 backups for 28 days.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// RegisterFlags binds the logging flags directly into c.
func RegisterFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.Level, "log-level", c.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.Format, "log-format", c.Format, "Log format (json, text)")
	fs.StringVar(&c.Output, "log-output", c.Output, "Log output (stdout, stderr, or file path)")
}

// ParseLevel maps a level name to a slog.Level. Unknown names fall
// back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds a logger from c and installs it as the slog default.
// Invalid settings fall back to the defaults rather than failing.
func Setup(c Config) *slog.Logger {
	logger := slog.New(newHandler(c, newWriter(c)))
	slog.SetDefault(logger)
	return logger
}

func newWriter(c Config) io.Writer {
	switch strings.ToLower(c.Output) {
	case "stdout", "":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		return &lumberjack.Logger{
			Filename:   c.Output,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
		}
	}
}

func newHandler(c Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	if strings.ToLower(c.Format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
