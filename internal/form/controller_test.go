package form

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodcount/internal/backend"
)

// fakeBackend records calls and answers with canned results.
type fakeBackend struct {
	mu         sync.Mutex
	entries    []backend.Entry
	exports    [][2]string
	record     *backend.Record
	createErr  error
	exportBody *trackedBody
	exportErr  error
	block      chan struct{} // when set, CreateRecord waits on it
	started    chan struct{}
}

func (f *fakeBackend) CreateRecord(ctx context.Context, e backend.Entry) (*backend.Record, error) {
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.record != nil {
		return f.record, nil
	}
	return &backend.Record{Date: e.Date, Shift: e.Shift, Count: e.Count, Defects: e.Defects}, nil
}

func (f *fakeBackend) Export(ctx context.Context, date, shift string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.exports = append(f.exports, [2]string{date, shift})
	f.mu.Unlock()
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	if f.exportBody == nil {
		return nil, errors.New("no export configured")
	}
	return f.exportBody, nil
}

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

type memDownloader struct {
	name string
	data []byte
	err  error
}

func (d *memDownloader) Download(name string, r io.Reader) error {
	if d.err != nil {
		return d.err
	}
	d.name = name
	var buf bytes.Buffer
	_, err := io.Copy(&buf, r)
	d.data = buf.Bytes()
	return err
}

func clockAt(hh, mm int) func() time.Time {
	return func() time.Time { return time.Date(2026, 10, 16, hh, mm, 0, 0, time.Local) }
}

func newController(t *testing.T, b Backend) *Controller {
	t.Helper()
	return New(b, WithClock(clockAt(10, 15)))
}

func TestNew_Defaults(t *testing.T) {
	c := newController(t, &fakeBackend{})
	v := c.View()
	assert.Equal(t, State{Date: "2026-10-16", Time: "10:15", Shift: "A", Defects: "0"}, v.State)
	assert.False(t, v.Loading)
	assert.Nil(t, v.Message)

	night := New(&fakeBackend{}, WithClock(clockAt(5, 0)))
	assert.Equal(t, "", night.View().State.Shift)
}

func TestUpdate_TimeRederivesShift(t *testing.T) {
	c := newController(t, &fakeBackend{})
	for _, tt := range []struct{ time, shift string }{
		{"10:15", "A"},
		{"16:00", "B"},
		{"05:00", ""},
		{"15:30", "B"},
		{"", ""},
		{"07:00", "A"},
	} {
		require.NoError(t, c.Update(FieldTime, tt.time))
		v := c.View()
		assert.Equal(t, tt.time, v.State.Time)
		assert.Equal(t, tt.shift, v.State.Shift, "time %q", tt.time)
	}
}

func TestUpdate_Errors(t *testing.T) {
	c := newController(t, &fakeBackend{})
	assert.ErrorIs(t, c.Update(FieldShift, "B"), ErrReadOnlyField)
	assert.ErrorIs(t, c.Update(Field("speed"), "9"), ErrUnknownField)
	assert.Equal(t, "A", c.View().State.Shift)
}

func TestUpdate_OtherFieldsKeepShift(t *testing.T) {
	c := newController(t, &fakeBackend{})
	require.NoError(t, c.Update(FieldLine, "L2"))
	require.NoError(t, c.Update(FieldDate, "2026-10-17"))
	v := c.View().State
	assert.Equal(t, "L2", v.Line)
	assert.Equal(t, "2026-10-17", v.Date)
	assert.Equal(t, "A", v.Shift)
}

func TestSubmit_Success(t *testing.T) {
	fb := &fakeBackend{}
	c := newController(t, fb)
	require.NoError(t, c.Update(FieldLine, "L1"))
	require.NoError(t, c.Update(FieldProduct, "PN-42"))
	require.NoError(t, c.Update(FieldOperator, "op7"))
	require.NoError(t, c.Update(FieldCount, "5"))
	require.NoError(t, c.Update(FieldDefects, ""))
	require.NoError(t, c.Update(FieldNotes, "jam at 10"))

	require.NoError(t, c.Submit(context.Background()))

	require.Len(t, fb.entries, 1)
	assert.Equal(t, backend.Entry{
		Date: "2026-10-16", Time: "10:15", Shift: "A",
		Line: "L1", Product: "PN-42", Operator: "op7",
		Count: 5, Defects: 0, Notes: "jam at 10",
	}, fb.entries[0])

	v := c.View()
	assert.False(t, v.Loading)
	require.NotNil(t, v.Message)
	assert.Equal(t, MessageSuccess, v.Message.Kind)
	assert.Equal(t, "Saved for 2026-10-16 Shift A", v.Message.Text)
	assert.Equal(t, State{
		Date: "2026-10-16", Time: "10:15", Shift: "A",
		Line: "L1", Product: "PN-42", Operator: "op7",
		Count: "", Defects: "0", Notes: "",
	}, v.State)
}

func TestSubmit_OmitsEmptyOptionals(t *testing.T) {
	fb := &fakeBackend{}
	c := New(fb, WithClock(clockAt(5, 0)))
	require.NoError(t, c.Update(FieldCount, "3"))

	require.NoError(t, c.Submit(context.Background()))
	require.Len(t, fb.entries, 1)
	e := fb.entries[0]
	assert.Empty(t, e.Shift)
	assert.Empty(t, e.Line)
	assert.Empty(t, e.Notes)
	assert.Equal(t, 3, e.Count)
}

func TestSubmit_UsesServiceConfirmation(t *testing.T) {
	fb := &fakeBackend{record: &backend.Record{Date: "2026-10-15", Shift: "B"}}
	c := newController(t, fb)
	require.NoError(t, c.Update(FieldCount, "1"))
	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, "Saved for 2026-10-15 Shift B", c.View().Message.Text)
}

func TestSubmit_StatusErrorKeepsState(t *testing.T) {
	long := strings.Repeat("x", 250)
	fb := &fakeBackend{createErr: &backend.StatusError{Op: "create record", StatusCode: http.StatusBadRequest, Body: long}}
	c := newController(t, fb)
	require.NoError(t, c.Update(FieldCount, "5"))
	require.NoError(t, c.Update(FieldNotes, "n"))
	before := c.View().State

	err := c.Submit(context.Background())
	require.Error(t, err)

	v := c.View()
	assert.Equal(t, before, v.State)
	assert.False(t, v.Loading)
	require.NotNil(t, v.Message)
	assert.Equal(t, MessageError, v.Message.Kind)
	assert.Equal(t, strings.Repeat("x", 200), v.Message.Text)
}

func TestSubmit_ErrorTexts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"empty body", &backend.StatusError{StatusCode: 500}, "Failed to save"},
		{"transport", errors.New("create record: connection refused"), "create record: connection refused"},
		{"empty transport text", errors.New(""), "Failed to save"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(t, &fakeBackend{createErr: tt.err})
			require.NoError(t, c.Update(FieldCount, "1"))
			require.Error(t, c.Submit(context.Background()))
			assert.Equal(t, tt.want, c.View().Message.Text)
		})
	}
}

func TestSubmit_TruncatesByCharacter(t *testing.T) {
	body := strings.Repeat("é", 201)
	c := newController(t, &fakeBackend{createErr: &backend.StatusError{StatusCode: 400, Body: body}})
	require.NoError(t, c.Update(FieldCount, "1"))
	require.Error(t, c.Submit(context.Background()))
	assert.Equal(t, strings.Repeat("é", 200), c.View().Message.Text)
}

func TestSubmit_ValidationNeverCallsBackend(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		value string
		want  string
	}{
		{"missing count", FieldCount, "", "count is required"},
		{"missing date", FieldDate, "", "date is required"},
		{"missing time", FieldTime, "", "time is required"},
		{"negative count", FieldCount, "-1", "count must be 0 or more"},
		{"fractional defects", FieldDefects, "1.5", "defects must be a whole number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{}
			c := newController(t, fb)
			require.NoError(t, c.Update(FieldCount, "4"))
			require.NoError(t, c.Update(tt.field, tt.value))

			err := c.Submit(context.Background())
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Empty(t, fb.entries)
			v := c.View()
			assert.False(t, v.Loading)
			assert.Equal(t, tt.want, v.Message.Text)
		})
	}
}

func TestSubmit_RejectsWhileLoading(t *testing.T) {
	fb := &fakeBackend{block: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newController(t, fb)
	require.NoError(t, c.Update(FieldCount, "2"))

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()
	<-fb.started

	assert.True(t, c.View().Loading)
	assert.ErrorIs(t, c.Submit(context.Background()), ErrSubmitInFlight)

	close(fb.block)
	require.NoError(t, <-done)
	assert.False(t, c.View().Loading)
	assert.Len(t, fb.entries, 1)
}

func TestSubmit_ClearsPreviousMessage(t *testing.T) {
	fb := &fakeBackend{block: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newController(t, fb)
	require.Error(t, c.Export(context.Background(), &memDownloader{}))
	require.NotNil(t, c.View().Message)

	require.NoError(t, c.Update(FieldCount, "2"))
	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()
	<-fb.started
	assert.Nil(t, c.View().Message)
	close(fb.block)
	require.NoError(t, <-done)
}

func TestExport_Success(t *testing.T) {
	body := &trackedBody{Reader: strings.NewReader("xlsx-bytes")}
	fb := &fakeBackend{exportBody: body}
	c := New(fb, WithClock(clockAt(16, 0)))
	dl := &memDownloader{}

	require.NoError(t, c.Export(context.Background(), dl))
	assert.Equal(t, [][2]string{{"2026-10-16", "B"}}, fb.exports)
	assert.Equal(t, "production_2026-10-16_shift_B.xlsx", dl.name)
	assert.Equal(t, "xlsx-bytes", string(dl.data))
	assert.True(t, body.closed)
	assert.Nil(t, c.View().Message)
}

func TestExport_PreconditionsNeverCallBackend(t *testing.T) {
	for _, tt := range []struct {
		name  string
		field Field
		value string
	}{
		{"no date", FieldDate, ""},
		{"no shift", FieldTime, "05:00"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{}
			c := newController(t, fb)
			require.NoError(t, c.Update(tt.field, tt.value))

			err := c.Export(context.Background(), &memDownloader{})
			assert.ErrorIs(t, err, ErrExportNotReady)
			assert.Empty(t, fb.exports)
			v := c.View()
			require.NotNil(t, v.Message)
			assert.Equal(t, MessageError, v.Message.Kind)
			assert.Equal(t, "Please select date and ensure time maps to a valid shift before export.", v.Message.Text)
		})
	}
}

func TestExport_Failures(t *testing.T) {
	tests := []struct {
		name string
		fb   *fakeBackend
		dl   *memDownloader
		want string
	}{
		{
			name: "status",
			fb:   &fakeBackend{exportErr: &backend.StatusError{Op: "export", StatusCode: 500, Body: "boom"}},
			dl:   &memDownloader{},
			want: "Export failed",
		},
		{
			name: "transport",
			fb:   &fakeBackend{exportErr: errors.New("export: dial tcp: refused")},
			dl:   &memDownloader{},
			want: "export: dial tcp: refused",
		},
		{
			name: "download",
			fb:   &fakeBackend{exportBody: &trackedBody{Reader: strings.NewReader("x")}},
			dl:   &memDownloader{err: errors.New("disk full")},
			want: "disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(t, tt.fb)
			require.Error(t, c.Export(context.Background(), tt.dl))
			v := c.View()
			require.NotNil(t, v.Message)
			assert.Equal(t, MessageError, v.Message.Kind)
			assert.Equal(t, tt.want, v.Message.Text)
			assert.False(t, v.Loading)
			if tt.fb.exportBody != nil {
				assert.True(t, tt.fb.exportBody.closed)
			}
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "production_2026-10-16_shift_A.xlsx", FileName("2026-10-16", "A"))
}

func TestSubmit_InFlightLeavesStateAlone(t *testing.T) {
	fb := &fakeBackend{block: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newController(t, fb)

	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(),
			Edit{Field: FieldCount, Value: "5"}, Edit{Field: FieldNotes, Value: "n1"})
	}()
	<-fb.started

	err := c.Submit(context.Background(),
		Edit{Field: FieldCount, Value: "7"}, Edit{Field: FieldNotes, Value: "n2"})
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	v := c.View()
	assert.True(t, v.Loading)
	assert.Equal(t, "5", v.State.Count)
	assert.Equal(t, "n1", v.State.Notes)
	require.NotNil(t, v.Message)
	assert.Equal(t, MessageError, v.Message.Kind)
	assert.Equal(t, "A save is already in progress. Wait for it to finish, then save again.", v.Message.Text)

	close(fb.block)
	require.NoError(t, <-done)
	require.Len(t, fb.entries, 1)
	assert.Equal(t, 5, fb.entries[0].Count)
	assert.Equal(t, "n1", fb.entries[0].Notes)
}

func TestSubmit_AppliesEdits(t *testing.T) {
	fb := &fakeBackend{}
	c := newController(t, fb)

	require.NoError(t, c.Submit(context.Background(),
		Edit{Field: FieldTime, Value: "16:00"}, Edit{Field: FieldCount, Value: "3"}))
	require.Len(t, fb.entries, 1)
	assert.Equal(t, "B", fb.entries[0].Shift)
	assert.Equal(t, 3, fb.entries[0].Count)

	err := c.Submit(context.Background(), Edit{Field: FieldShift, Value: "A"})
	assert.ErrorIs(t, err, ErrReadOnlyField)
	assert.Len(t, fb.entries, 1)
	assert.False(t, c.View().Loading)
}

func TestExport_EmptyTransportTextSaysExportFailed(t *testing.T) {
	c := newController(t, &fakeBackend{exportErr: errors.New("")})
	require.Error(t, c.Export(context.Background(), &memDownloader{}))
	v := c.View()
	require.NotNil(t, v.Message)
	assert.Equal(t, MessageError, v.Message.Kind)
	assert.Equal(t, "Export failed", v.Message.Text)
}

func TestExport_EmptyDownloadErrorSaysExportFailed(t *testing.T) {
	fb := &fakeBackend{exportBody: &trackedBody{Reader: strings.NewReader("x")}}
	c := newController(t, fb)
	require.Error(t, c.Export(context.Background(), &memDownloader{err: errors.New("")}))
	assert.Equal(t, "Export failed", c.View().Message.Text)
}

func TestReset_ReloadsFromClock(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 10, 16, 10, 15, 0, 0, time.Local)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := New(&fakeBackend{}, WithClock(clock))
	require.NoError(t, c.Update(FieldLine, "L2"))
	require.Error(t, c.Submit(context.Background()))
	require.NotNil(t, c.View().Message)

	mu.Lock()
	now = time.Date(2026, 10, 17, 16, 40, 0, 0, time.Local)
	mu.Unlock()
	c.Reset()

	v := c.View()
	assert.Equal(t, State{Date: "2026-10-17", Time: "16:40", Shift: "B", Defects: "0"}, v.State)
	assert.Nil(t, v.Message)
}

func TestReset_IgnoredWhileSaving(t *testing.T) {
	fb := &fakeBackend{block: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newController(t, fb)

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), Edit{Field: FieldCount, Value: "4"}) }()
	<-fb.started

	c.Reset()
	v := c.View()
	assert.True(t, v.Loading)
	assert.Equal(t, "4", v.State.Count)

	close(fb.block)
	require.NoError(t, <-done)
}

func TestTakeView_ShowsMessageOnce(t *testing.T) {
	c := newController(t, &fakeBackend{})
	require.NoError(t, c.Submit(context.Background(), Edit{Field: FieldCount, Value: "1"}))

	v := c.TakeView()
	require.NotNil(t, v.Message)
	assert.Equal(t, "Saved for 2026-10-16 Shift A", v.Message.Text)
	assert.Nil(t, c.TakeView().Message)
}
