// Package imgerr defines the error taxonomy shared by every engine stage.
//
// Each failure is an *Error carrying a Kind plus the stage and operation that
// produced it. Kinds have sentinel values so callers can branch with
// errors.Is(err, imgerr.ErrInvalidGeometry) without caring about the wrapping.
package imgerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindUnsupportedFormat     Kind = "unsupported_format"
	KindNotRegistered         Kind = "not_registered"
	KindDecode                Kind = "decode_error"
	KindInvalidParameter      Kind = "invalid_parameter"
	KindInvalidGeometry       Kind = "invalid_geometry"
	KindUnsupportedColorspace Kind = "unsupported_colorspace"
	KindEncode                Kind = "encode_error"
)

// Stage names the pipeline stage an error surfaced from.
type Stage string

const (
	StageDetect    Stage = "detect"
	StageRegistry  Stage = "registry"
	StageDecode    Stage = "decode"
	StageTransform Stage = "transform"
	StageMetadata  Stage = "metadata"
	StageEncode    Stage = "encode"
)

var (
	ErrUnsupportedFormat     = &Error{Kind: KindUnsupportedFormat}
	ErrNotRegistered         = &Error{Kind: KindNotRegistered}
	ErrDecode                = &Error{Kind: KindDecode}
	ErrInvalidParameter      = &Error{Kind: KindInvalidParameter}
	ErrInvalidGeometry       = &Error{Kind: KindInvalidGeometry}
	ErrUnsupportedColorspace = &Error{Kind: KindUnsupportedColorspace}
	ErrEncode                = &Error{Kind: KindEncode}
)

// Error is a classified engine failure.
type Error struct {
	Kind  Kind
	Stage Stage
	Op    string
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Stage != "" {
		msg = string(e.Stage) + " stage: " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by kind. A NotRegistered error also reports as UnsupportedFormat,
// since a missing codec means the running build cannot handle the format.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return e.Kind == KindNotRegistered && t.Kind == KindUnsupportedFormat
}

// New returns an error of the given kind with a formatted cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. If err already carries a kind, the kind is kept and
// only missing stage/op context is filled in.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		out := *existing
		if out.Op == "" {
			out.Op = op
		}
		return &out
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithStage stamps the stage on err, keeping an existing classification. An
// unclassified error gets fallback as its kind.
func WithStage(stage Stage, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Stage != "" {
			return err
		}
		out := *existing
		out.Stage = stage
		return &out
	}
	return &Error{Kind: fallback, Stage: stage, Err: err}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps err to the status the API reports for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnsupportedFormat, KindNotRegistered:
		return http.StatusUnsupportedMediaType
	case KindDecode:
		return http.StatusUnprocessableEntity
	case KindInvalidParameter, KindInvalidGeometry, KindUnsupportedColorspace:
		return http.StatusBadRequest
	case KindEncode:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
