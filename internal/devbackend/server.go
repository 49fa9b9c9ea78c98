// Package devbackend is an in-memory stand-in for the production records
// service. It speaks the same two endpoints so the form can be run and tested
// end to end without the real backend.
package devbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prodcount/internal/backend"
	"prodcount/internal/shift"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Server keeps records in memory for the life of the process.
type Server struct {
	log *zap.Logger
	now func() time.Time

	mu      sync.RWMutex
	records []backend.Record
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now for entries that arrive without a date.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New returns an empty server.
func New(opts ...Option) *Server {
	s := &Server{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes the records API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+backend.RecordsPath, s.handleCreate)
	mux.HandleFunc("GET "+backend.ExportPath, s.handleExport)
	return mux
}

// Records returns the stored records matching date and shift, oldest first.
func (s *Server) Records(date, label string) []backend.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backend.Record
	for _, r := range s.records {
		if r.Date == date && r.Shift == label {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var e backend.Entry
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&e); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := s.normalize(e)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	s.log.Info("record stored",
		zap.String("id", rec.ID),
		zap.String("date", rec.Date),
		zap.String("shift", rec.Shift),
		zap.Int("count", rec.Count))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(rec)
}

// normalize fills the date and shift the way the form would and rejects
// entries no form could have produced.
func (s *Server) normalize(e backend.Entry) (backend.Record, error) {
	if e.Count < 0 || e.Defects < 0 {
		return backend.Record{}, fmt.Errorf("count and defects must be >= 0")
	}
	if e.Date == "" {
		e.Date = s.now().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", e.Date); err != nil {
		return backend.Record{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", e.Date)
	}
	if e.Shift == "" {
		e.Shift = shift.Resolve(e.Time)
	}
	if e.Shift != shift.A && e.Shift != shift.B {
		return backend.Record{}, fmt.Errorf("time %q does not fall in a shift", e.Time)
	}
	return backend.Record{
		ID:       uuid.NewString(),
		Date:     e.Date,
		Time:     e.Time,
		Shift:    e.Shift,
		Line:     e.Line,
		Product:  e.Product,
		Operator: e.Operator,
		Count:    e.Count,
		Defects:  e.Defects,
		Notes:    e.Notes,
	}, nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date_str"))
	label := strings.TrimSpace(q.Get("shift"))
	if date == "" || label == "" {
		http.Error(w, "date_str and shift are required", http.StatusBadRequest)
		return
	}

	recs := s.Records(date, label)
	if len(recs) == 0 {
		http.Error(w, fmt.Sprintf("no records for %s shift %s", date, label), http.StatusNotFound)
		return
	}

	f, err := buildWorkbook(recs)
	if err != nil {
		s.log.Error("build workbook", zap.Error(err))
		http.Error(w, "failed to build spreadsheet", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("production_%s_shift_%s.xlsx", date, label)))
	if err := f.Write(w); err != nil {
		s.log.Warn("write workbook", zap.Error(err))
	}
}
