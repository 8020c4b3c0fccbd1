// Package channel implements the method-call boundary used by the host
// application: calls carry a method name and named arguments and complete
// with a value, a coded error, or a not-implemented marker.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/downloads-bridge/internal/storage"
)

// MethodSaveToDownloads is the method name of the save operation.
const MethodSaveToDownloads = "saveToDownloads"

// Argument names of MethodSaveToDownloads.
const (
	ArgBytes = "bytes"
	ArgName  = "name"
)

// Error codes returned to callers.
const (
	// CodeInvalidInput is returned when the bytes argument is missing.
	CodeInvalidInput = "INVALID_INPUT"
	// CodeSaveFailed is returned for every failure of the save itself.
	CodeSaveFailed = "SAVE_FAILED"
)

// Call is a method invocation received from the host.
type Call struct {
	Method    string
	Arguments map[string]any
}

// Error is a coded failure reported to the host.
type Error struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the outcome of a Call. Exactly one of Value, Err or
// NotImplemented is set.
type Result struct {
	Value          any
	Err            *Error
	NotImplemented bool
}

// Success creates a successful result.
func Success(v any) Result {
	return Result{Value: v}
}

// Failure creates an error result.
func Failure(code, message string) Result {
	return Result{Err: &Error{Code: code, Message: message}}
}

// NotImplemented is the result for unknown methods.
func NotImplemented() Result {
	return Result{NotImplemented: true}
}

// Handler serves one method.
type Handler func(ctx context.Context, call Call) Result

// Saver persists a byte buffer and returns its locator.
type Saver interface {
	Save(ctx context.Context, data []byte, fileName string) (storage.Locator, error)
}

// Dispatcher routes calls to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	saver    Saver
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used for default file names.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a dispatcher serving MethodSaveToDownloads with saver.
func NewDispatcher(saver Saver, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		saver:    saver,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.Register(MethodSaveToDownloads, d.saveToDownloads)
	return d
}

// Register adds or replaces the handler of a method.
func (d *Dispatcher) Register(method string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// Invoke runs the handler registered for call.Method.
func (d *Dispatcher) Invoke(ctx context.Context, call Call) Result {
	d.mu.RLock()
	h, ok := d.handlers[call.Method]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("method not implemented", slog.String("method", call.Method))
		return NotImplemented()
	}
	return h(ctx, call)
}

// DefaultFileName returns the name used when the caller supplies none.
// Format: segmentation_result_<epoch-millis>.png
func DefaultFileName(t time.Time) string {
	return fmt.Sprintf("segmentation_result_%d.png", t.UnixMilli())
}

func (d *Dispatcher) saveToDownloads(ctx context.Context, call Call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic during save", slog.Any("error", r))
			res = Failure(CodeSaveFailed, fmt.Sprint(r))
		}
	}()

	data, ok := call.Arguments[ArgBytes].([]byte)
	if !ok || data == nil {
		d.logger.Warn("save rejected", slog.String("error", storage.ErrMissingInput.Error()))
		return Failure(CodeInvalidInput, storage.ErrMissingInput.Error())
	}

	name, ok := call.Arguments[ArgName].(string)
	if !ok {
		name = DefaultFileName(d.now())
	}

	loc, err := d.saver.Save(ctx, data, name)
	if err != nil {
		return Failure(CodeSaveFailed, err.Error())
	}
	if loc == "" {
		return Failure(CodeSaveFailed, storage.ErrReservationFailed.Error())
	}
	return Success(string(loc))
}
