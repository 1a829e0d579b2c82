// Copyright 2015 Ka-Hing Cheung
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

package internal

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var mu sync.Mutex
var loggers = make(map[string]*logHandle)

// level and output applied to handles created after SetLogLevel/SetOutput
var (
	currentLevel  = logrus.WarnLevel
	currentOutput io.Writer
	colorDisabled bool
)

var framePlaceHolder = runtime.Frame{Function: "???", File: "???", Line: 0}

type logHandle struct {
	logrus.Logger

	name     string
	pid      int
	lvl      *logrus.Level
	colorful bool
}

func (l *logHandle) Format(e *logrus.Entry) ([]byte, error) {
	lvl := e.Level
	if l.lvl != nil {
		lvl = *l.lvl
	}
	lvlStr := strings.ToUpper(lvl.String())
	if l.colorful {
		var color int
		switch lvl {
		case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
			color = 31 // RED
		case logrus.WarnLevel:
			color = 33 // YELLOW
		case logrus.InfoLevel:
			color = 34 // BLUE
		default: // logrus.TraceLevel, logrus.DebugLevel
			color = 35 // MAGENTA
		}
		lvlStr = fmt.Sprintf("\033[1;%dm%s\033[0m", color, lvlStr)
	}
	const timeFormat = "2006/01/02 15:04:05.000000"
	caller := e.Caller
	if caller == nil {
		caller = &framePlaceHolder
	}
	str := fmt.Sprintf("%v %s[%d] <%v>: %v [%s@%s:%d]",
		e.Time.Format(timeFormat),
		l.name,
		l.pid,
		lvlStr,
		strings.TrimRight(e.Message, "\n"),
		MethodName(caller.Function),
		path.Base(caller.File),
		caller.Line)

	if len(e.Data) != 0 {
		str += " " + fmt.Sprint(e.Data)
	}
	if !strings.HasSuffix(str, "\n") {
		str += "\n"
	}
	return []byte(str), nil
}

// Returns a human-readable method name, removing internal markers added by Go
func MethodName(fullFuncName string) string {
	firstSlash := strings.Index(fullFuncName, "/")
	if firstSlash != -1 && firstSlash < len(fullFuncName)-1 {
		fullFuncName = fullFuncName[firstSlash+1:]
	}
	lastDot := strings.LastIndex(fullFuncName, ".")
	if lastDot == -1 || lastDot == len(fullFuncName)-1 {
		return fullFuncName
	}
	method := fullFuncName[lastDot+1:]
	// avoid func1
	if strings.HasPrefix(method, "func") && len(method) > 4 && method[4] >= '0' && method[4] <= '9' {
		candidate := MethodName(fullFuncName[:lastDot])
		if candidate != "" {
			method = candidate
		}
	}
	// avoid init.3
	if len(method) == 1 && method[0] >= '0' && method[0] <= '9' {
		candidate := MethodName(fullFuncName[:lastDot])
		if candidate != "" {
			method = candidate
		}
	}
	return method
}

func newLogger(name string) *logHandle {
	l := &logHandle{Logger: *logrus.New(), name: name, pid: os.Getpid()}
	l.Formatter = l
	l.Level = currentLevel
	if currentOutput != nil {
		l.Out = currentOutput
	}
	l.colorful = !colorDisabled && currentOutput == nil && isatty.IsTerminal(os.Stderr.Fd())
	l.SetReportCaller(true)
	return l
}

// GetLogger returns a logger mapped to `name`
func GetLogger(name string) *logHandle {
	mu.Lock()
	defer mu.Unlock()

	if logger, ok := loggers[name]; ok {
		return logger
	}
	logger := newLogger(name)
	loggers[name] = logger
	return logger
}

// SetLogLevel sets Level to all the loggers in the map
func SetLogLevel(lvl logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = lvl
	for _, logger := range loggers {
		logger.Level = lvl
	}
}

// VerbosityLevel maps the number of -v flags to a log level:
// 0 warn, 1 info, 2 debug, 3 and more trace.
func VerbosityLevel(count int) logrus.Level {
	switch {
	case count <= 0:
		return logrus.WarnLevel
	case count == 1:
		return logrus.InfoLevel
	case count == 2:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

func DisableLogColor() {
	mu.Lock()
	defer mu.Unlock()
	colorDisabled = true
	for _, logger := range loggers {
		logger.colorful = false
	}
}

// SetOutFile sends every logger to a daily rotated file. `name` becomes a
// symlink to the current file.
func SetOutFile(name string) error {
	logf, err := rotatelogs.New(
		name+".%Y%m%d",
		rotatelogs.WithLinkName(name),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", name, err)
	}

	mu.Lock()
	defer mu.Unlock()
	currentOutput = logf
	for _, logger := range loggers {
		logger.SetOutput(logf)
		logger.colorful = false
	}
	return nil
}

func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	currentOutput = w
	for _, logger := range loggers {
		logger.SetOutput(w)
		logger.colorful = false
	}
}
