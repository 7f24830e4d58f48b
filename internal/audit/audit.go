// Package audit records security decisions: one record per authentication,
// authorization, or node-validation outcome. Emitting a record must never
// alter the decision it describes, so sinks return nothing and are expected
// to swallow their own failures.
package audit

import (
	"log"
	"sync"
	"time"
)

// Category classifies what kind of decision a record describes.
type Category string

const (
	// CategoryAuthentication covers node and client authentication outcomes.
	CategoryAuthentication Category = "authentication"

	// CategoryAuthorization covers permission checks on named resources.
	CategoryAuthorization Category = "authorization"

	// CategoryValidation covers join-time node validation outcomes.
	CategoryValidation Category = "validation"

	// CategoryResolution covers failures to resolve a peer's security
	// context for a forwarded operation.
	CategoryResolution Category = "resolution"
)

// Outcome is the decision result named by a record.
type Outcome string

const (
	// OutcomeSuccess marks an allowed or accepted decision.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure marks a denied or rejected decision.
	OutcomeFailure Outcome = "failure"
)

// Record is a single audit entry. SubjectID and Login identify the subject
// the decision was made for; Resource and Permission are set only for
// authorization records.
type Record struct {
	Time       time.Time
	Category   Category
	SubjectID  string
	Login      string
	Resource   string
	Permission string
	Outcome    Outcome
	Detail     string
}

// Emitter is an audit sink. Emit must not fail observably: a sink that
// cannot persist a record drops it rather than disturbing the caller.
type Emitter interface {
	Emit(Record)
}

// LogEmitter writes audit records to a standard logger.
type LogEmitter struct {
	logger *log.Logger
}

// NewLogEmitter creates a log-backed audit sink. A nil logger uses the
// process default.
func NewLogEmitter(logger *log.Logger) *LogEmitter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit writes one line per record.
func (e *LogEmitter) Emit(r Record) {
	if r.Category == CategoryAuthorization {
		e.logger.Printf("audit: category=%s outcome=%s subject=%s login=%q resource=%q permission=%s detail=%q",
			r.Category, r.Outcome, r.SubjectID, r.Login, r.Resource, r.Permission, r.Detail)
		return
	}
	e.logger.Printf("audit: category=%s outcome=%s subject=%s login=%q detail=%q",
		r.Category, r.Outcome, r.SubjectID, r.Login, r.Detail)
}

// Recorder is an in-memory audit sink used by tests to assert exactly-once
// emission. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit appends the record.
func (r *Recorder) Emit(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of everything emitted so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Count returns how many records match the category and outcome.
func (r *Recorder) Count(c Category, o Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Category == c && rec.Outcome == o {
			n++
		}
	}
	return n
}

// Reset discards all recorded entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
