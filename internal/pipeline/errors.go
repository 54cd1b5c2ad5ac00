package pipeline

import (
	"errors"
	"fmt"
)

// State is a stage of the per-request state machine.
type State int

const (
	AwaitingImage State = iota
	Decoding
	Detecting
	Extracting
	Classifying
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingImage:
		return "awaiting_image"
	case Decoding:
		return "decoding"
	case Detecting:
		return "detecting"
	case Extracting:
		return "extracting"
	case Classifying:
		return "classifying"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Kind classifies a pipeline failure. Kinds are stable strings used on the wire.
type Kind string

const (
	KindMissingImage            Kind = "missing_image"
	KindUnreadableImage         Kind = "unreadable_image"
	KindNoFaceDetected          Kind = "no_face_detected"
	KindFeatureExtractionFailed Kind = "feature_extraction_failed"
	KindDetectionFailed         Kind = "detection_failed"
	KindArtifactLoadFailure     Kind = "artifact_load_failure"
	KindInternal                Kind = "internal_error"
)

// Fault says which side of the request caused a failure.
type Fault int

const (
	FaultClient Fault = iota
	FaultServer
)

func (f Fault) String() string {
	if f == FaultClient {
		return "client"
	}
	return "server"
}

// Fault reports whether the submitter or the service is responsible for k.
func (k Kind) Fault() Fault {
	switch k {
	case KindMissingImage, KindUnreadableImage, KindNoFaceDetected, KindFeatureExtractionFailed:
		return FaultClient
	default:
		return FaultServer
	}
}

// Message is the human-readable text shown to callers.
func (k Kind) Message() string {
	switch k {
	case KindMissingImage:
		return "no image was uploaded"
	case KindUnreadableImage:
		return "the image could not be read"
	case KindNoFaceDetected:
		return "no face was detected in the image"
	case KindFeatureExtractionFailed:
		return "facial features could not be measured"
	case KindDetectionFailed:
		return "face detection is temporarily unavailable"
	case KindArtifactLoadFailure:
		return "the prediction model is unavailable"
	default:
		return "internal error"
	}
}

// Sentinels for errors.Is. An *Error unwraps to the sentinel of its kind.
var (
	ErrMissingImage            = errors.New(string(KindMissingImage))
	ErrUnreadableImage         = errors.New(string(KindUnreadableImage))
	ErrNoFaceDetected          = errors.New(string(KindNoFaceDetected))
	ErrFeatureExtractionFailed = errors.New(string(KindFeatureExtractionFailed))
	ErrDetectionFailed         = errors.New(string(KindDetectionFailed))
	ErrArtifactLoadFailure     = errors.New(string(KindArtifactLoadFailure))
	ErrInternal                = errors.New(string(KindInternal))
)

var sentinels = map[Kind]error{
	KindMissingImage:            ErrMissingImage,
	KindUnreadableImage:         ErrUnreadableImage,
	KindNoFaceDetected:          ErrNoFaceDetected,
	KindFeatureExtractionFailed: ErrFeatureExtractionFailed,
	KindDetectionFailed:         ErrDetectionFailed,
	KindArtifactLoadFailure:     ErrArtifactLoadFailure,
	KindInternal:                ErrInternal,
}

// Error is the only error type returned by Pipeline.Run.
type Error struct {
	Kind  Kind
	State State
	Err   error
}

func newError(kind Kind, state State, err error) *Error {
	return &Error{Kind: kind, State: state, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s while %s", e.Kind, e.State)
	}
	return fmt.Sprintf("%s while %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Message is the caller-facing description of the failure.
func (e *Error) Message() string {
	return e.Kind.Message()
}

// KindOf extracts the kind from err. Errors that did not come from the pipeline, or from
// artifact loading, are KindInternal.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}
