// Package capture runs biometric captures through the queue: the API submits
// a capture, a score worker asks the face service for a match score, and a
// record worker writes the outcome to the ledger.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"schoolattend/internal/attendance"
	"schoolattend/internal/ledger"
	"schoolattend/internal/logging"
	"schoolattend/internal/metrics"
	"schoolattend/internal/queue"
	"schoolattend/internal/validation"
)

// Request is what a capture device submits.
type Request struct {
	StudentID     string `json:"studentId" validate:"required"`
	CapturedPhoto string `json:"capturedPhoto" validate:"required"`
	Location      string `json:"gpsLocation"`
}

// Job is a submitted capture waiting to be scored.
type Job struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"studentId"`
	CapturedPhoto  string    `json:"capturedPhoto"`
	ReferencePhoto string    `json:"referencePhoto"`
	Location       string    `json:"gpsLocation,omitempty"`
	ActorID        string    `json:"markedBy"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// Scored is a job with the scorer's verdict. Error is set when scoring failed.
type Scored struct {
	Job
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
}

// Submitter validates captures and queues them for scoring.
type Submitter struct {
	recorder *attendance.Service
	q        queue.Queue
	now      func() time.Time
	logger   *slog.Logger
}

// NewSubmitter creates a submitter publishing to q.
func NewSubmitter(recorder *attendance.Service, q queue.Queue, now func() time.Time, logger *slog.Logger) *Submitter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{recorder: recorder, q: q, now: now, logger: logger}
}

// Submit resolves the student's reference photo and queues the capture. The
// capture time is taken now, not when the job is eventually recorded.
func (s *Submitter) Submit(ctx context.Context, req Request, actorID string) (Job, error) {
	if err := validation.Struct(req); err != nil {
		return Job{}, err
	}
	reference, err := s.recorder.ReferencePhoto(req.StudentID)
	if err != nil {
		return Job{}, err
	}
	job := Job{
		ID:             uuid.NewString(),
		StudentID:      req.StudentID,
		CapturedPhoto:  req.CapturedPhoto,
		ReferencePhoto: reference,
		Location:       req.Location,
		ActorID:        actorID,
		CapturedAt:     s.now(),
	}
	msg, err := queue.NewMessage(queue.TypeCapture, job)
	if err != nil {
		return Job{}, err
	}
	if err := s.q.Publish(ctx, msg); err != nil {
		return Job{}, fmt.Errorf("queue capture %s: %w", job.ID, err)
	}
	logging.Operation(ctx, s.logger, "CaptureSubmitter", "Submit", "job_id", job.ID, "student_id", job.StudentID).
		InfoContext(ctx, "capture queued")
	return job, nil
}

// ScoreWorker consumes capture jobs, calls the scorer and publishes the result.
type ScoreWorker struct {
	in     queue.Queue
	out    queue.Queue
	scorer attendance.Scorer
	logger *slog.Logger
}

// NewScoreWorker creates a worker reading from in and writing to out.
func NewScoreWorker(in, out queue.Queue, scorer attendance.Scorer, logger *slog.Logger) *ScoreWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoreWorker{in: in, out: out, scorer: scorer, logger: logger}
}

// Run processes jobs until ctx is done.
func (w *ScoreWorker) Run(ctx context.Context) error {
	messages, err := w.in.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume captures: %w", err)
	}
	w.logger.Info("score worker started")
	for msg := range messages {
		if msg.Type != queue.TypeCapture {
			continue
		}
		var job Job
		if err := msg.Decode(&job); err != nil {
			w.logger.Warn("dropping malformed capture", "error", err)
			continue
		}
		w.score(ctx, job)
	}
	w.logger.Info("score worker stopped")
	return nil
}

func (w *ScoreWorker) score(ctx context.Context, job Job) {
	logger := w.logger.With("job_id", job.ID, "student_id", job.StudentID)
	result := Scored{Job: job}
	score, err := w.scorer.Score(ctx, job.CapturedPhoto, job.ReferencePhoto)
	if err != nil {
		result.Error = err.Error()
		logger.Warn("scoring failed", "error", err)
	} else {
		result.Score = score
		logger.Debug("capture scored", "score", score)
	}

	msg, err := queue.NewMessage(queue.TypeScored, result)
	if err == nil {
		err = w.out.Publish(ctx, msg)
	}
	if err != nil {
		logger.Error("publish scored capture failed", "error", err)
	}
}

// RecordWorker consumes scored captures and records them on the ledger.
type RecordWorker struct {
	in       queue.Queue
	recorder *attendance.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
	done     func(Scored, ledger.AttendanceEvent, error)
}

// NewRecordWorker creates a worker. m may be nil.
func NewRecordWorker(in queue.Queue, recorder *attendance.Service, m *metrics.Metrics, logger *slog.Logger) *RecordWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordWorker{in: in, recorder: recorder, metrics: m, logger: logger}
}

// OnRecorded registers a callback invoked after every processed capture.
func (w *RecordWorker) OnRecorded(fn func(Scored, ledger.AttendanceEvent, error)) {
	w.done = fn
}

// Run processes scored captures until ctx is done.
func (w *RecordWorker) Run(ctx context.Context) error {
	messages, err := w.in.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume scored captures: %w", err)
	}
	w.logger.Info("record worker started")
	for msg := range messages {
		if msg.Type != queue.TypeScored {
			continue
		}
		var s Scored
		if err := msg.Decode(&s); err != nil {
			w.logger.Warn("dropping malformed scored capture", "error", err)
			continue
		}
		evt, err := w.record(ctx, s)
		if w.done != nil {
			w.done(s, evt, err)
		}
	}
	w.logger.Info("record worker stopped")
	return nil
}

// errScoring marks a capture the scorer could not evaluate.
type errScoring string

func (e errScoring) Error() string { return "scoring failed: " + string(e) }

func (w *RecordWorker) record(ctx context.Context, s Scored) (ledger.AttendanceEvent, error) {
	if s.Error != "" {
		w.metrics.CaptureOutcome("scoring_failed", nil)
		return ledger.AttendanceEvent{}, errScoring(s.Error)
	}
	evt, err := w.recorder.RecordAttendance(ctx, attendance.Capture{
		StudentID:     s.StudentID,
		CapturedPhoto: s.CapturedPhoto,
		Score:         s.Score,
		Location:      s.Location,
		ActorID:       s.ActorID,
		At:            s.CapturedAt,
	})
	if err != nil {
		w.metrics.CaptureOutcome(ledger.ErrorKind(err), nil)
		return evt, err
	}
	w.metrics.CaptureOutcome(string(evt.Status), evt.Score)
	return evt, nil
}
