package driver

import "fmt"

// ConfigError reports an invalid capture tool configuration.
type ConfigError struct {
	tool string
	msg  string
}

func NewConfigError(tool, format string, args ...any) *ConfigError {
	return &ConfigError{tool: tool, msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.tool, e.msg)
}

// RuntimeError reports a capture tool that can not be located or started.
type RuntimeError struct {
	runtime string
	err     error
}

func NewRuntimeError(runtime string, err error) *RuntimeError {
	return &RuntimeError{runtime: runtime, err: err}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime `%s`: %s", e.runtime, e.err)
}

func (e *RuntimeError) Unwrap() error {
	return e.err
}
