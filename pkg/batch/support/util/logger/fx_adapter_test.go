package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx/fxevent"
)

func TestHookName(t *testing.T) {
	assert.Equal(t, "github.com/tigerroll/retrainer/internal/app.NewApp", hookName("github.com/tigerroll/retrainer/internal/app.NewApp.func1"))
	assert.Equal(t, "main.run", hookName("main.run"))
}

func TestFxLoggerAdapterLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := GetLogLevel()
	t.Cleanup(func() { currentLevel.Store(int32(prev)) })
	SetLogLevel("INFO")

	a := NewFxLoggerAdapter()
	a.LogEvent(&fxevent.OnStartExecuted{FunctionName: "pkg.start.func2"})
	a.LogEvent(&fxevent.Invoked{FunctionName: "pkg.run", Err: errors.New("boom")})

	out := buf.String()
	assert.NotContains(t, out, "OnStart hook executed")
	assert.Contains(t, out, "[ERROR] fx: invoke pkg.run failed: boom")
}
