package form

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"prodcount/internal/backend"
)

// User-facing texts.
const (
	msgSaveFailed     = "Failed to save"
	msgExportFailed   = "Export failed"
	msgExportNotReady = "Please select date and ensure time maps to a valid shift before export."
	msgSubmitInFlight = "A save is already in progress. Wait for it to finish, then save again."

	maxMessageLen = 200
)

var (
	// ErrUnknownField is returned by Update for a name that is not a form field.
	ErrUnknownField = errors.New("unknown form field")
	// ErrReadOnlyField is returned by Update for the derived shift field.
	ErrReadOnlyField = errors.New("shift is derived from time and cannot be set")
	// ErrSubmitInFlight is returned by Submit while an earlier submit is loading.
	ErrSubmitInFlight = errors.New("a save is already in progress")
	// ErrExportNotReady is returned by Export when date or shift is missing.
	ErrExportNotReady = errors.New(msgExportNotReady)
)

// ValidationError reports a field that breaks the form's input constraints.
type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// MessageKind tags a Message.
type MessageKind string

const (
	MessageSuccess MessageKind = "success"
	MessageError   MessageKind = "error"
)

// Message is the banner shown above the form.
type Message struct {
	Kind MessageKind
	Text string
}

// Backend is the part of the records service the form uses.
// *backend.Client implements it.
type Backend interface {
	CreateRecord(ctx context.Context, e backend.Entry) (*backend.Record, error)
	Export(ctx context.Context, date, shift string) (io.ReadCloser, error)
}

// Downloader receives an exported spreadsheet.
type Downloader interface {
	Download(name string, r io.Reader) error
}

// Edit is one field assignment carried by an operation.
type Edit struct {
	Field Field
	Value string
}

// View is a copy of everything the page needs to render.
type View struct {
	State   State
	Loading bool
	Message *Message
}

// Controller owns one form. It is safe for concurrent use; the lock is never
// held across a backend call.
type Controller struct {
	backend Backend
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	state   State
	loading bool
	message *Message
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces time.Now for the initial date and time.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New returns a controller whose form is loaded with the current date and time.
func New(b Backend, opts ...Option) *Controller {
	c := &Controller{
		backend: b,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = NewState(c.now())
	return c
}

// View returns a snapshot of the form.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{State: c.state, Loading: c.loading}
	if c.message != nil {
		m := *c.message
		v.Message = &m
	}
	return v
}

// TakeView returns a snapshot like View and clears the message, so a banner
// is shown once.
func (c *Controller) TakeView() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{State: c.state, Loading: c.loading, Message: c.message}
	c.message = nil
	return v
}

// Reset reloads the form: fields go back to the current date and time with
// empty entries, and the message is dropped. It does nothing while a save is
// in flight, so the outcome of that save still lands on the entry it was for.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return
	}
	c.state = NewState(c.now())
	c.message = nil
}

// Update sets field f to v. Setting the time re-derives the shift before
// Update returns.
func (c *Controller) Update(f Field, v string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.state.set(f, v); err != nil {
		return err
	}
	if f == FieldTime {
		c.log.Debug("shift derived", zap.String("time", v), zap.String("shift", c.state.Shift))
	}
	return nil
}

// Submit applies edits and saves the resulting entry. Edits are only applied
// once no other save is in flight; otherwise nothing changes except the
// message. Failures are reported through the form's message and also
// returned. On success count, defects and notes are cleared while date, time,
// shift, line, product and operator stay for the next entry.
func (c *Controller) Submit(ctx context.Context, edits ...Edit) error {
	entry, err := c.beginSubmit(edits)
	if err != nil {
		return err
	}
	defer c.endSubmit()

	rec, err := c.backend.CreateRecord(ctx, entry)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.Warn("save failed", zap.Error(err))
		c.message = errorMessage(saveFailureText(err), msgSaveFailed)
		return err
	}
	c.log.Info("entry saved",
		zap.String("id", rec.ID),
		zap.String("date", rec.Date),
		zap.String("shift", rec.Shift),
		zap.Int("count", entry.Count),
		zap.Int("defects", entry.Defects))
	c.message = &Message{Kind: MessageSuccess, Text: fmt.Sprintf("Saved for %s Shift %s", rec.Date, rec.Shift)}
	c.state.clearCounts()
	return nil
}

func (c *Controller) beginSubmit(edits []Edit) (backend.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		c.message = errorMessage(msgSubmitInFlight, msgSubmitInFlight)
		return backend.Entry{}, ErrSubmitInFlight
	}
	c.message = nil
	for _, e := range edits {
		if err := c.state.set(e.Field, e.Value); err != nil {
			c.message = errorMessage(err.Error(), msgSaveFailed)
			return backend.Entry{}, err
		}
	}
	entry, err := c.state.Entry()
	if err != nil {
		c.message = errorMessage(err.Error(), msgSaveFailed)
		return backend.Entry{}, err
	}
	c.loading = true
	return entry, nil
}

func (c *Controller) endSubmit() {
	c.mu.Lock()
	c.loading = false
	c.mu.Unlock()
}

// Export fetches the spreadsheet for the form's date and shift and hands it
// to dl as production_<date>_shift_<shift>.xlsx. Without a date or a resolved
// shift no request is made.
func (c *Controller) Export(ctx context.Context, dl Downloader) error {
	c.mu.Lock()
	c.message = nil
	date, label := c.state.Date, c.state.Shift
	c.mu.Unlock()

	if date == "" || label == "" {
		c.fail(msgExportNotReady)
		return ErrExportNotReady
	}

	body, err := c.backend.Export(ctx, date, label)
	if err != nil {
		c.log.Warn("export failed", zap.String("date", date), zap.String("shift", label), zap.Error(err))
		if _, ok := backend.AsStatusError(err); ok {
			c.fail(msgExportFailed)
		} else {
			c.fail(err.Error())
		}
		return err
	}
	defer body.Close()

	name := FileName(date, label)
	if err := dl.Download(name, body); err != nil {
		c.log.Warn("download failed", zap.String("file", name), zap.Error(err))
		c.fail(err.Error())
		return fmt.Errorf("download %s: %w", name, err)
	}
	c.log.Info("export downloaded", zap.String("file", name))
	return nil
}

// fail sets an export error banner.
func (c *Controller) fail(text string) {
	c.mu.Lock()
	c.message = errorMessage(text, msgExportFailed)
	c.mu.Unlock()
}

// saveFailureText prefers the service's own words for a rejected entry.
func saveFailureText(err error) string {
	if se, ok := backend.AsStatusError(err); ok {
		return se.Body
	}
	return err.Error()
}

// errorMessage shortens text for display, using fallback when it is empty.
func errorMessage(text, fallback string) *Message {
	text = truncate(text, maxMessageLen)
	if text == "" {
		text = fallback
	}
	return &Message{Kind: MessageError, Text: text}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
