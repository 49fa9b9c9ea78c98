package main

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prodcount/internal/form"
	"prodcount/internal/shift"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PageData is what page.html renders.
type PageData struct {
	form.View
	ShiftHint string
	Version   string
}

const (
	sessionCookie = "prodcount_session"
	sessionIdle   = 12 * time.Hour
)

// session is one browser's form. pending marks an outcome (a save or a failed
// export) that the next page load must show instead of starting over.
type session struct {
	ctrl    *form.Controller
	pending bool
	seen    time.Time
}

// webUI serves the HTML page. Every browser gets its own form, keyed by a
// session cookie.
type webUI struct {
	backend form.Backend
	opts    []form.Option
	tpl     *template.Template
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func newWebUI(b form.Backend, log *zap.Logger, opts ...form.Option) (*webUI, error) {
	tpl, err := template.New("page").Parse(pageHTML)
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	return &webUI{
		backend:  b,
		opts:     opts,
		tpl:      tpl,
		log:      log,
		sessions: map[string]*session{},
	}, nil
}

func (u *webUI) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", u.handleIndex)
	mux.HandleFunc("POST /entry", u.handleEntry)
	mux.HandleFunc("GET /export", u.handleExport)
	mux.HandleFunc("GET /api/shift", u.handleShift)
	return mux
}

// session returns the caller's form, starting a new one (and setting the
// cookie) when the request carries no known session.
func (u *webUI) session(w http.ResponseWriter, r *http.Request) *session {
	now := time.Now()
	u.mu.Lock()
	defer u.mu.Unlock()

	if c, err := r.Cookie(sessionCookie); err == nil {
		if s, ok := u.sessions[c.Value]; ok {
			s.seen = now
			return s
		}
	}

	for id, s := range u.sessions {
		if now.Sub(s.seen) > sessionIdle {
			delete(u.sessions, id)
		}
	}
	id := uuid.NewString()
	s := &session{ctrl: form.New(u.backend, u.opts...), seen: now}
	u.sessions[id] = s
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	u.log.Debug("session started", zap.Int("sessions", len(u.sessions)))
	return s
}

func (u *webUI) markPending(s *session) {
	u.mu.Lock()
	s.pending = true
	u.mu.Unlock()
}

func (u *webUI) takePending(s *session) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	p := s.pending
	s.pending = false
	return p
}

// handleIndex renders the page. A plain load starts from the current date and
// time; a load that follows a save or a failed export shows its outcome once.
func (u *webUI) handleIndex(w http.ResponseWriter, r *http.Request) {
	s := u.session(w, r)
	if !u.takePending(s) {
		s.ctrl.Reset()
	}
	data := PageData{
		View:      s.ctrl.TakeView(),
		ShiftHint: shift.Hint(),
		Version:   appVersion,
	}
	if err := u.tpl.Execute(w, data); err != nil {
		u.log.Error("template error", zap.Error(err))
	}
}

// handleEntry saves the posted fields. Whatever happens, the browser is sent
// back to the page, which shows the outcome banner.
func (u *webUI) handleEntry(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	s := u.session(w, r)
	if err := s.ctrl.Submit(r.Context(), edits(r.PostForm)...); err != nil {
		u.log.Debug("submit", zap.Error(err))
	}
	u.markPending(s)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleExport streams the spreadsheet as an attachment. The export button
// submits the form with GET, so the query carries the current field values.
func (u *webUI) handleExport(w http.ResponseWriter, r *http.Request) {
	s := u.session(w, r)
	for _, e := range edits(r.URL.Query()) {
		if err := s.ctrl.Update(e.Field, e.Value); err != nil {
			u.log.Warn("update field", zap.String("field", string(e.Field)), zap.Error(err))
		}
	}

	dl := &httpDownloader{w: w}
	if err := s.ctrl.Export(r.Context(), dl); err != nil {
		u.log.Debug("export", zap.Error(err))
		if !dl.started {
			u.markPending(s)
			http.Redirect(w, r, "/", http.StatusSeeOther)
		}
	}
}

func (u *webUI) handleShift(w http.ResponseWriter, r *http.Request) {
	t := r.URL.Query().Get("time")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"time":  t,
		"shift": shift.Resolve(t),
	})
}

// edits picks the editable fields out of submitted values. Anything else,
// the derived shift included, is ignored.
func edits(v url.Values) []form.Edit {
	var out []form.Edit
	for _, f := range form.EditableFields {
		vals, ok := v[string(f)]
		if !ok || len(vals) == 0 {
			continue
		}
		out = append(out, form.Edit{Field: f, Value: vals[0]})
	}
	return out
}

// httpDownloader hands an export to the browser as a file download.
type httpDownloader struct {
	w       http.ResponseWriter
	started bool
}

func (d *httpDownloader) Download(name string, r io.Reader) error {
	h := d.w.Header()
	h.Set("Content-Type", xlsxContentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	d.started = true
	_, err := io.Copy(d.w, r)
	return err
}

/* ---------------- HTML ---------------- */

const pageHTML = `<!doctype html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Production Count</title>
  <style>
    body { font-family: system-ui, sans-serif; margin: 0 auto; padding: 24px; max-width: 860px; box-sizing: border-box; }
    * { box-sizing: border-box; }
    h1 { margin: 0 0 4px 0; font-weight: 700; }
    h2 { margin-top: 0; font-weight: 600; }
    .lead { color: #555; margin: 0 0 20px 0; }
    .msg { margin: 12px 0; padding: 10px; border-radius: 6px; }
    .msg.success { color: #1b5e20; background: #e8f5e9; }
    .msg.error { color: #b00020; background: #ffebee; }
    .card { border: 1px solid #e0e0e0; border-radius: 10px; padding: 16px; margin: 16px 0; background: #fff; }
    .hint { color: #666; font-size: 0.85em; margin-top: 4px; }
    footer { margin-top: 40px; color: #666; font-size: 0.9em; text-align: center; }

    .form-grid { display: grid; grid-template-columns: 1fr 1fr; gap: 0 32px; }
    @media (max-width: 640px) { .form-grid { grid-template-columns: 1fr; } }
    .field { margin-bottom: 14px; }
    .field.wide { grid-column: 1 / -1; }
    .field label { display: block; font-weight: 500; color: #333; margin-bottom: 4px; font-size: 0.95em; }
    .field input, .field textarea { padding: 8px 10px; font-size: 1em; border: 1px solid #ccc; border-radius: 6px; width: 100%; }
    .field input[readonly] { background: #f5f5f5; }
    .field input:focus, .field textarea:focus { outline: none; border-color: #1976d2; box-shadow: 0 0 0 2px rgba(25,118,210,0.2); }
    .form-actions { display: flex; gap: 12px; flex-wrap: wrap; padding-top: 16px; border-top: 1px solid #e0e0e0; }
    .form-actions button { flex: 1; padding: 10px 20px; font-size: 1em; font-weight: 500; color: #fff; border: none; border-radius: 6px; cursor: pointer; }
    button.save { background: #1976d2; }
    button.save:hover { background: #1565c0; }
    button.save:disabled { opacity: 0.6; cursor: default; }
    button.export { background: #2e7d32; }
    button.export:hover { background: #1b5e20; }
  </style>
</head>
<body>
  <h1>Production Count</h1>
  <p class="lead">Record production for defined shifts and export to Excel by date and shift.</p>

  <div class="card">
    <h2>Production Entry</h2>

    {{with .Message}}<div class="msg {{.Kind}}">{{.Text}}</div>{{end}}

    <form method="POST" action="/entry">
      <div class="form-grid">
        <div class="field">
          <label for="date">Date</label>
          <input id="date" name="date" type="date" value="{{.State.Date}}" required>
        </div>
        <div class="field">
          <label for="time">Time</label>
          <input id="time" name="time" type="time" value="{{.State.Time}}" required>
        </div>
        <div class="field">
          <label for="shift">Shift</label>
          <input id="shift" type="text" value="{{.State.Shift}}" placeholder="Auto" readonly>
          <div class="hint">{{.ShiftHint}}</div>
        </div>
        <div class="field">
          <label for="line">Line</label>
          <input id="line" name="line" type="text" value="{{.State.Line}}" placeholder="Line/Machine">
        </div>
        <div class="field">
          <label for="product">Product</label>
          <input id="product" name="product" type="text" value="{{.State.Product}}" placeholder="Part Number">
        </div>
        <div class="field">
          <label for="operator">Operator</label>
          <input id="operator" name="operator" type="text" value="{{.State.Operator}}" placeholder="Name/ID">
        </div>
        <div class="field">
          <label for="count">Good Count</label>
          <input id="count" name="count" type="number" min="0" value="{{.State.Count}}" required>
        </div>
        <div class="field">
          <label for="defects">Defects</label>
          <input id="defects" name="defects" type="number" min="0" value="{{.State.Defects}}">
        </div>
        <div class="field wide">
          <label for="notes">Notes</label>
          <textarea id="notes" name="notes" rows="3" placeholder="Optional notes">{{.State.Notes}}</textarea>
        </div>
      </div>

      <div class="form-actions">
        <button id="save" class="save" type="submit"{{if .Loading}} disabled{{end}}>{{if .Loading}}Saving...{{else}}Save Entry{{end}}</button>
        <button class="export" type="submit" formaction="/export" formmethod="get" formnovalidate>Download Excel for Date &amp; Shift</button>
      </div>
    </form>
  </div>

  <footer>Shifts: {{.ShiftHint}} &middot; prodcount v{{.Version}}</footer>

  <script>
(function() {
  var timeInput = document.getElementById('time');
  var shiftInput = document.getElementById('shift');
  function refresh() {
    fetch('/api/shift?time=' + encodeURIComponent(timeInput.value))
      .then(function(res) { return res.json(); })
      .then(function(data) { shiftInput.value = data.shift; })
      .catch(function() {});
  }
  timeInput.addEventListener('input', refresh);
  timeInput.addEventListener('change', refresh);

  // Lock the save button while the entry is posted; the export button
  // downloads in place and leaves it alone.
  var saveButton = document.getElementById('save');
  var saveLabel = saveButton.textContent;
  document.querySelector('form').addEventListener('submit', function(ev) {
    if (ev.submitter && ev.submitter.classList.contains('export')) return;
    saveButton.disabled = true;
    saveButton.textContent = 'Saving...';
  });
  window.addEventListener('pageshow', function(ev) {
    if (ev.persisted) {
      saveButton.disabled = false;
      saveButton.textContent = saveLabel;
    }
  });
})();
  </script>
</body>
</html>`
