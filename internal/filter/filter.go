// Package filter decides which stream events reach the change registry.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"gerrit-watch/internal/config"
	"gerrit-watch/internal/models"
)

// ErrEventRejected is returned when a rule or the filter script drops an event
var ErrEventRejected = errors.New("event rejected by filter")

// Filter applies project rules or a JavaScript predicate to events
type Filter struct {
	config *config.FilterConfig
	logger *logrus.Logger
	rules  []*ruleMatcher

	mu       sync.RWMutex
	jsScript string // Cached script content
}

type ruleMatcher struct {
	project string
	exclude bool
}

// New creates a filter from cfg. A nil or disabled config accepts everything.
func New(cfg *config.FilterConfig, logger *logrus.Logger) (*Filter, error) {
	f := &Filter{
		config: cfg,
		logger: logger,
	}
	if cfg == nil || !cfg.Enabled {
		return f, nil
	}

	if cfg.Script != "" {
		if err := f.loadScript(); err != nil {
			return nil, err
		}
		logger.Infof("Loaded filter script: %s", cfg.Script)
	}

	for i, rule := range cfg.Rules {
		if !doublestar.ValidatePattern(rule.Project) {
			return nil, fmt.Errorf("filter rule %d: invalid project pattern %q", i, rule.Project)
		}
		f.rules = append(f.rules, &ruleMatcher{project: rule.Project, exclude: rule.Exclude})
	}
	return f, nil
}

// Enabled reports whether the filter can reject anything
func (f *Filter) Enabled() bool {
	return f.config != nil && f.config.Enabled
}

func (f *Filter) loadScript() error {
	content, err := os.ReadFile(f.config.Script)
	if err != nil {
		return fmt.Errorf("failed to read filter script: %w", err)
	}
	if err := validateScript(string(content)); err != nil {
		return fmt.Errorf("invalid filter script: %w", err)
	}
	f.mu.Lock()
	f.jsScript = string(content)
	f.mu.Unlock()
	return nil
}

// Apply returns ErrEventRejected when ev must not be enqueued
func (f *Filter) Apply(ev *models.Event) error {
	if !f.Enabled() {
		return nil
	}

	f.mu.RLock()
	script := f.jsScript
	f.mu.RUnlock()
	if script != "" {
		return f.applyScript(script, ev)
	}

	for _, rule := range f.rules {
		if rule.matches(ev.Change.Project) {
			if rule.exclude {
				return ErrEventRejected
			}
			return nil
		}
	}
	return nil
}

func (r *ruleMatcher) matches(project string) bool {
	if r.project == "" {
		return true
	}
	ok, err := doublestar.Match(r.project, project)
	return err == nil && ok
}

// validateScript checks that the script yields a filter function
func validateScript(content string) error {
	_, err := compile(goja.New(), content)
	return err
}

// compile runs the script and returns the filter function. The script may
// evaluate to an anonymous function or define a function named transform.
func compile(vm *goja.Runtime, content string) (goja.Callable, error) {
	result, err := vm.RunString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to execute script: %w", err)
	}
	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if fn, ok := goja.AssertFunction(result); ok {
			return fn, nil
		}
	}
	named := vm.Get("transform")
	if named != nil && !goja.IsUndefined(named) && !goja.IsNull(named) {
		if fn, ok := goja.AssertFunction(named); ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
}

func (f *Filter) applyScript(script string, ev *models.Event) error {
	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	// goja.Runtime is not goroutine safe, so each call gets its own.
	vm := goja.New()
	if err := f.setupConsoleBindings(vm); err != nil {
		return fmt.Errorf("failed to setup console bindings: %w", err)
	}

	fn, err := compile(vm, script)
	if err != nil {
		return err
	}

	if err := vm.Set("eventJSON", string(eventJSON)); err != nil {
		return fmt.Errorf("failed to set event JSON: %w", err)
	}
	eventObj, err := vm.RunString("JSON.parse(eventJSON)")
	if err != nil {
		return fmt.Errorf("failed to parse event JSON: %w", err)
	}

	result, err := fn(goja.Undefined(), eventObj)
	if err != nil {
		return fmt.Errorf("filter script error: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) || !result.ToBoolean() {
		return ErrEventRejected
	}
	return nil
}

func (f *Filter) setupConsoleBindings(vm *goja.Runtime) error {
	consoleObj := vm.NewObject()

	formatArgs := func(call goja.FunctionCall) string {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		return fmt.Sprint(args...)
	}

	bindings := map[string]func(args ...interface{}){
		"log":   f.logger.Info,
		"info":  f.logger.Info,
		"warn":  f.logger.Warn,
		"error": f.logger.Error,
		"debug": f.logger.Debug,
	}
	for name, logFn := range bindings {
		logFn := logFn
		err := consoleObj.Set(name, func(call goja.FunctionCall) goja.Value {
			logFn(formatArgs(call))
			return goja.Undefined()
		})
		if err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}

	return vm.Set("console", consoleObj)
}
