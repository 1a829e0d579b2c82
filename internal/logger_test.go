package internal

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMethodName(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"Standard function", "github.com/zhengshuai-xiao/blkimg/pkg/imager.(*Sequencer).Run", "Run"},
		{"Method with pointer receiver", "github.com/zhengshuai-xiao/blkimg/pkg/imager.(*Worker).submit", "submit"},
		{"Anonymous function", "github.com/zhengshuai-xiao/blkimg/pkg/imager.(*Worker).submit.func1", "submit"},
		{"Simple function", "main.main", "main"},
		{"No package path", "MyFunction", "MyFunction"},
		{"Empty string", "", ""},
		{"Just a dot", ".", "."},
		{"Trailing dot", "some.package.", "package"},
		{"Leading dot", ".some.package", "package"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := MethodName(tc.input)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestVerbosityLevel(t *testing.T) {
	assert.Equal(t, logrus.WarnLevel, VerbosityLevel(0))
	assert.Equal(t, logrus.InfoLevel, VerbosityLevel(1))
	assert.Equal(t, logrus.DebugLevel, VerbosityLevel(2))
	assert.Equal(t, logrus.TraceLevel, VerbosityLevel(3))
	assert.Equal(t, logrus.TraceLevel, VerbosityLevel(7))
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := GetLogger("logger_test")
	l.SetOutput(&buf)
	l.colorful = false
	l.Level = logrus.InfoLevel

	l.Infof("position %d done", 7)
	l.Debugf("hidden")

	out := buf.String()
	assert.Contains(t, out, "logger_test[")
	assert.Contains(t, out, "<INFO>: position 7 done")
	assert.Contains(t, out, "TestLoggerFormat@logger_test.go")
	assert.NotContains(t, out, "hidden")
}
