// Package contact validates contact form submissions and forwards them to a Store.
package contact

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// TimeFormat is the layout of the timestamp cell written with every row.
const TimeFormat = "2006-01-02 15:04:05"

const (
	msgMissingFields = "이름, 이메일, 내용을 모두 입력해 주세요."
	msgNoSecrets     = "Secrets 설정을 찾을 수 없습니다."
	msgSendFailed    = "서버 연결 문제로 전송에 실패했습니다."
	msgConfirmation  = "✅ %s님, 문의가 성공적으로 접수되었습니다! 담당자가 검토 후 %s로 연락드리겠습니다."
)

var validate = validator.New()

// Submission is one contact form entry. Fields are taken as typed:
// no trimming and no email format check.
type Submission struct {
	Name      string `validate:"required"`
	Email     string `validate:"required"`
	Message   string `validate:"required"`
	Timestamp string `validate:"-"`
}

// Row returns the record in store column order.
func (s Submission) Row() []string {
	return []string{s.Timestamp, s.Name, s.Email, s.Message}
}

type Kind int

const (
	KindValidation Kind = iota + 1
	KindConfig
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfig:
		return "config"
	case KindRemote:
		return "remote"
	default:
		return "ok"
	}
}

// Error describes why a submission was not stored.
type Error struct {
	Kind   Kind
	Detail error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Detail }

// Result is either a confirmation or an *Error, never both.
type Result struct {
	Confirmation string
	Err          *Error
	Submitted    time.Time
}

func (r Result) OK() bool { return r.Err == nil }

// Kind returns the failure kind, or 0 on success.
func (r Result) Kind() Kind {
	if r.Err == nil {
		return 0
	}
	return r.Err.Kind
}

// Message is the text shown to the visitor. It never includes error detail.
func (r Result) Message() string {
	switch r.Kind() {
	case 0:
		return r.Confirmation
	case KindValidation:
		return msgMissingFields
	case KindConfig:
		return msgNoSecrets + " " + msgSendFailed
	default:
		return msgSendFailed
	}
}

// Handler runs the submission flow against an injected store.
type Handler struct {
	open     Opener
	log      *zap.Logger
	recorder Recorder
	now      func() time.Time
}

type Option func(*Handler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithRecorder sends every result to r.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

func NewHandler(open Opener, log *zap.Logger, opts ...Option) *Handler {
	h := &Handler{open: open, log: log, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

// Submit validates the three fields and, if all are present, appends one row.
// The append is attempted at most once.
func (h *Handler) Submit(ctx context.Context, name, email, message string) Result {
	res := h.submit(ctx, Submission{Name: name, Email: email, Message: message})
	if h.recorder != nil {
		outcome := res
		outcome.Confirmation = ""
		if err := h.recorder.Record(ctx, outcome); err != nil {
			h.log.Warn("recording submission outcome", zap.Error(err))
		}
	}
	return res
}

func (h *Handler) submit(ctx context.Context, sub Submission) Result {
	now := h.now()
	if err := validate.Struct(sub); err != nil {
		h.log.Info("contact form incomplete", zap.Error(err))
		return Result{Submitted: now, Err: &Error{Kind: KindValidation, Detail: err}}
	}

	if h.open == nil {
		return h.fail(now, KindConfig, ErrNoCredentials)
	}
	// opening only reads credentials, the first network call is the append
	store, err := h.open(ctx)
	if err != nil {
		return h.fail(now, KindConfig, err)
	}

	sub.Timestamp = now.Format(TimeFormat)
	if err := store.AppendRow(ctx, sub.Row()); err != nil {
		return h.fail(now, KindRemote, err)
	}
	h.log.Info("contact submission stored", zap.String("timestamp", sub.Timestamp))
	return Result{
		Submitted:    now,
		Confirmation: fmt.Sprintf(msgConfirmation, sub.Name, sub.Email),
	}
}

func (h *Handler) fail(now time.Time, kind Kind, err error) Result {
	h.log.Error("contact submission failed", zap.Stringer("kind", kind), zap.Error(err))
	return Result{Submitted: now, Err: &Error{Kind: kind, Detail: err}}
}
