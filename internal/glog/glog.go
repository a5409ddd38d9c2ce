// Copyright 2024 The rollstack authors
// This file is part of the rollstack library.
//
// The rollstack library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The rollstack library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the rollstack library. If not, see <http://www.gnu.org/licenses/>.

// Package glog implements the repo's ambient leveled, keyed logger. It plays
// the same role the upstream "log" package plays for every other component:
// call sites pass a message plus alternating key/value pairs.
package glog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is the severity of a log record, ordered most to least severe.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	default:
		return "TRACE"
	}
}

var lvlColor = map[Lvl]color.Attribute{
	LvlCrit:  color.FgMagenta,
	LvlError: color.FgRed,
	LvlWarn:  color.FgYellow,
	LvlInfo:  color.FgGreen,
	LvlDebug: color.FgCyan,
	LvlTrace: color.FgBlue,
}

// Logger is a minimal keyed logger, matching the call shape used throughout
// the core packages: Logger.Info("message", "key1", val1, "key2", val2, ...).
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	ctx []interface{}
}

var (
	verbosity int32 = int32(LvlInfo)
	out       io.Writer
	outMu     sync.Mutex
	useColor  bool
)

func init() {
	if f, ok := os.Stderr.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		out = colorable.NewColorable(f)
		useColor = true
	} else {
		out = os.Stderr
	}
}

// SetVerbosity sets the process-wide minimum level that is emitted.
func SetVerbosity(lvl Lvl) { atomic.StoreInt32(&verbosity, int32(lvl)) }

// Root returns the root logger with no bound context.
func Root() Logger { return &logger{} }

// New returns a child logger carrying the given context appended to any
// context the parent already carries.
func (l *logger) New(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &logger{ctx: merged}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

// Crit logs at the highest severity, capturing the caller's stack frame the
// way a fatal invariant violation deserves a frame to debug from, then exits.
func (l *logger) Crit(msg string, ctx ...interface{}) {
	ctx = append(ctx, "stack", fmt.Sprintf("%+v", stack.Caller(1)))
	l.write(LvlCrit, msg, ctx)
	os.Exit(1)
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	if lvl > Lvl(atomic.LoadInt32(&verbosity)) {
		return
	}
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)

	line := formatLine(lvl, msg, all)

	outMu.Lock()
	defer outMu.Unlock()
	io.WriteString(out, line)
}

func formatLine(lvl Lvl, msg string, ctx []interface{}) string {
	ts := time.Now().Format("2006-01-02T15:04:05.000")
	head := fmt.Sprintf("%s [%s] %s", ts, lvl, msg)
	if useColor {
		if c, ok := lvlColor[lvl]; ok {
			head = color.New(c).Sprint(fmt.Sprintf("[%s]", lvl)) + fmt.Sprintf(" %s %s", ts, msg)
		}
	}
	for i := 0; i+1 < len(ctx); i += 2 {
		head += fmt.Sprintf(" %v=%v", ctx[i], ctx[i+1])
	}
	return head + "\n"
}

var root = Root()

func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }
func New(ctx ...interface{}) Logger        { return root.New(ctx...) }
