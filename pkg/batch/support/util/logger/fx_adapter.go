package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter routes fx container events into this package's leveled logger.
// Lifecycle noise goes to DEBUG; failures go to ERROR.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter returns the adapter as an fxevent.Logger.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent implements fxevent.Logger.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		Debugf("fx: OnStart hook executing: %s", hookName(e.FunctionName))
	case *fxevent.OnStartExecuted:
		logHookResult("OnStart", e.FunctionName, e.Err)
	case *fxevent.OnStopExecuting:
		Debugf("fx: OnStop hook executing: %s", hookName(e.FunctionName))
	case *fxevent.OnStopExecuted:
		logHookResult("OnStop", e.FunctionName, e.Err)
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("fx: supply of %s failed: %v", e.TypeName, e.Err)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("fx: provide via %s failed: %v", hookName(e.ConstructorName), e.Err)
			return
		}
		for _, name := range e.OutputTypeNames {
			Debugf("fx: provided %s", name)
		}
	case *fxevent.Decorated:
		if e.Err != nil {
			Errorf("fx: decorate via %s failed: %v", hookName(e.DecoratorName), e.Err)
		}
	case *fxevent.Invoking:
		Debugf("fx: invoking %s", hookName(e.FunctionName))
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("fx: invoke %s failed: %v", hookName(e.FunctionName), e.Err)
		}
	case *fxevent.Stopping:
		Debugf("fx: received signal %s", e.Signal)
	case *fxevent.Stopped:
		if e.Err != nil {
			Errorf("fx: stop failed: %v", e.Err)
		}
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			Errorf("fx: rollback failed: %v", e.Err)
		}
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("fx: start failed: %v", e.Err)
			return
		}
		Debugf("fx: application started")
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx: logger initialization failed: %v", e.Err)
		}
	}
}

func logHookResult(kind, fn string, err error) {
	if err != nil {
		Errorf("fx: %s hook %s failed: %v", kind, hookName(fn), err)
		return
	}
	Debugf("fx: %s hook executed: %s", kind, hookName(fn))
}

// hookName trims the ".funcN" suffix fx reports for closures.
func hookName(funcName string) string {
	if idx := strings.LastIndex(funcName, ".func"); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}
