// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base *zap.Logger
)

func init() {
	base = build(levelFromEnv(), "")
}

// Configure rebuilds the global logger. An empty filePath keeps console-only
// output. Safe to call more than once; the last call wins.
func Configure(level string, filePath string) {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
	base = build(parseLevel(level), filePath)
}

func levelFromEnv() zapcore.Level {
	return parseLevel(os.Getenv("PETROVICH_LOG_LEVEL"))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func build(level zapcore.Level, filePath string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			level,
		),
	}

	if strings.TrimSpace(filePath) != "" {
		if f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encCfg),
				zapcore.Lock(f),
				level,
			))
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}

func logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func toFields(component string, fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("component", component))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// DebugC logs a debug message tagged with a component name.
func DebugC(component, msg string) {
	logger().Debug(msg, zap.String("component", component))
}

// DebugCF logs a debug message with a component name and structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	logger().Debug(msg, toFields(component, fields)...)
}

// InfoC logs an info message tagged with a component name.
func InfoC(component, msg string) {
	logger().Info(msg, zap.String("component", component))
}

// InfoCF logs an info message with a component name and structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	logger().Info(msg, toFields(component, fields)...)
}

// WarnC logs a warning tagged with a component name.
func WarnC(component, msg string) {
	logger().Warn(msg, zap.String("component", component))
}

// WarnCF logs a warning with a component name and structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	logger().Warn(msg, toFields(component, fields)...)
}

// ErrorC logs an error tagged with a component name.
func ErrorC(component, msg string) {
	logger().Error(msg, zap.String("component", component))
}

// ErrorCF logs an error with a component name and structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	logger().Error(msg, toFields(component, fields)...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = logger().Sync()
}
