// Copyright (C) 2025 localfirst
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package logger is the process-wide structured logger for the graph,
// reducer, connection, and coordinator layers. It is hand-rolled rather
// than a third-party dependency, emits one line per event in JSON or
// logfmt-style text, and keeps fields in the order they were attached so
// a dropped-link warning always reads hash first, reason second, no
// matter which map iteration order the runtime felt like today.
package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log event.
type Level int8

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config string ("debug", "WARN", ...) to a Level;
// unknown strings fall back to InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Format selects the line encoding.
type Format int8

const (
	FormatJSON Format = iota
	FormatText
)

// ParseFormat maps a config string to a Format; unknown strings mean JSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "text") {
		return FormatText
	}
	return FormatJSON
}

// Field is one structured key/value attached to a log event.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// stringer avoids importing the graph/keyset packages from here; link
// hashes and key scopes both print themselves.
type stringer interface{ String() string }

// Hash creates a field for a link or graph head hash.
func Hash(h stringer) Field {
	return Field{Key: "hash", Value: h.String()}
}

// Peer creates a field for the remote peer a connection event concerns.
func Peer(id string) Field {
	return Field{Key: "peer", Value: id}
}

// Scope creates a field for a keyset scope.
func Scope(s stringer) Field {
	return Field{Key: "scope", Value: s.String()}
}

// Generation creates a field for a keyset generation.
func Generation(gen uint32) Field {
	return Field{Key: "generation", Value: gen}
}

// Logger is the logging interface the rest of the module depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// With returns a child logger whose events always carry fields.
	With(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// Log implements Logger over an io.Writer. All children returned by With
// share the parent's writer, level, and format.
type Log struct {
	core *core
	with []Field
}

// core is the state shared by a Log and all its children.
type core struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	format Format
	clock  func() time.Time
}

// New creates a logger writing to out at the given level, in JSON.
func New(out io.Writer, level Level) *Log {
	return &Log{core: &core{out: out, level: level, format: FormatJSON, clock: time.Now}}
}

// NewDefault creates a stdout logger, honoring TEAMGRAPH_LOG_LEVEL and
// TEAMGRAPH_LOG_FORMAT when set.
func NewDefault() *Log {
	l := New(os.Stdout, ParseLevel(os.Getenv("TEAMGRAPH_LOG_LEVEL")))
	if f := os.Getenv("TEAMGRAPH_LOG_FORMAT"); f != "" {
		l.SetFormat(ParseFormat(f))
	}
	return l
}

// SetFormat switches between JSON and text lines.
func (l *Log) SetFormat(f Format) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.format = f
}

// SetLevel sets the minimum level that gets written.
func (l *Log) SetLevel(level Level) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.level = level
}

// GetLevel returns the current minimum level.
func (l *Log) GetLevel() Level {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	return l.core.level
}

// With returns a child logger that prefixes every event with fields.
func (l *Log) With(fields ...Field) Logger {
	child := &Log{core: l.core}
	child.with = append(append([]Field{}, l.with...), fields...)
	return child
}

func (l *Log) Debug(msg string, fields ...Field) { l.emit(DebugLevel, msg, fields) }
func (l *Log) Info(msg string, fields ...Field)  { l.emit(InfoLevel, msg, fields) }
func (l *Log) Warn(msg string, fields ...Field)  { l.emit(WarnLevel, msg, fields) }
func (l *Log) Error(msg string, fields ...Field) { l.emit(ErrorLevel, msg, fields) }

// Fatal logs the event and exits the process.
func (l *Log) Fatal(msg string, fields ...Field) {
	l.emit(FatalLevel, msg, fields)
	os.Exit(1)
}

var bufPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

// emit encodes one event and writes it as a single line. Encoding and
// writing happen under the core lock so concurrent callers never
// interleave lines.
func (l *Log) emit(level Level, msg string, fields []Field) {
	c := l.core
	c.mu.Lock()
	defer c.mu.Unlock()
	if level < c.level {
		return
	}

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	ts := c.clock().Format(time.RFC3339)
	switch c.format {
	case FormatText:
		encodeText(buf, ts, level, msg, l.with, fields)
	default:
		encodeJSON(buf, ts, level, msg, l.with, fields)
	}
	buf.WriteByte('\n')
	_, _ = c.out.Write(buf.Bytes())
}

// encodeJSON writes {"ts":...,"level":...,"msg":...,k:v,...} with fields
// in attachment order. Later duplicates of a key win, matching what a
// reader of the line would assume.
func encodeJSON(buf *bytes.Buffer, ts string, level Level, msg string, with, fields []Field) {
	buf.WriteByte('{')
	writeJSONPair(buf, "ts", ts)
	buf.WriteByte(',')
	writeJSONPair(buf, "level", level.String())
	buf.WriteByte(',')
	writeJSONPair(buf, "msg", msg)
	seen := map[string]bool{"ts": true, "level": true, "msg": true}
	all := append(append([]Field{}, with...), fields...)
	for i := len(all) - 1; i >= 0; i-- {
		f := all[i]
		if seen[f.Key] {
			all[i].Key = "" // earlier duplicate, suppressed
			continue
		}
		seen[f.Key] = true
	}
	for _, f := range all {
		if f.Key == "" {
			continue
		}
		buf.WriteByte(',')
		writeJSONPair(buf, f.Key, f.Value)
	}
	buf.WriteByte('}')
}

func writeJSONPair(buf *bytes.Buffer, key string, value interface{}) {
	kb, _ := json.Marshal(key)
	buf.Write(kb)
	buf.WriteByte(':')
	vb, err := json.Marshal(value)
	if err != nil {
		vb, _ = json.Marshal(fmt.Sprintf("%v", value))
	}
	buf.Write(vb)
}

// encodeText writes `ts LEVEL msg k=v k=v`, quoting values with spaces.
func encodeText(buf *bytes.Buffer, ts string, level Level, msg string, with, fields []Field) {
	buf.WriteString(ts)
	buf.WriteByte(' ')
	buf.WriteString(fmt.Sprintf("%-5s", level.String()))
	buf.WriteByte(' ')
	buf.WriteString(msg)
	for _, group := range [][]Field{with, fields} {
		for _, f := range group {
			buf.WriteByte(' ')
			buf.WriteString(f.Key)
			buf.WriteByte('=')
			v := fmt.Sprintf("%v", f.Value)
			if strings.ContainsAny(v, " \t\"") {
				v = fmt.Sprintf("%q", v)
			}
			buf.WriteString(v)
		}
	}
}

// Default logger wiring. The zero default writes JSON to stdout at the
// level TEAMGRAPH_LOG_LEVEL selects.

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewDefault()
)

// SetDefaultLogger replaces the process-wide logger.
func SetDefaultLogger(l *Log) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// GetDefaultLogger returns the process-wide logger.
func GetDefaultLogger() *Log {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Package-level helpers on the default logger.

// Debug logs a debug event on the default logger.
func Debug(msg string, fields ...Field) {
	GetDefaultLogger().Debug(msg, fields...)
}

// Info logs an info event on the default logger.
func Info(msg string, fields ...Field) {
	GetDefaultLogger().Info(msg, fields...)
}

// Warn logs a warning event on the default logger.
func Warn(msg string, fields ...Field) {
	GetDefaultLogger().Warn(msg, fields...)
}

// ErrorMsg logs an error event on the default logger. (Error is taken by
// the field constructor.)
func ErrorMsg(msg string, fields ...Field) {
	GetDefaultLogger().Error(msg, fields...)
}

// Fatal logs a fatal event on the default logger and exits.
func Fatal(msg string, fields ...Field) {
	GetDefaultLogger().Fatal(msg, fields...)
}
