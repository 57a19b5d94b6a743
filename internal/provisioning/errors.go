package provisioning

import (
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/smithy-go/transport/http"
	"github.com/digitalocean/godo"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is a closed classification of provider failures. The sweep loop
// branches on this tagged value, never on provider exception identity.
type Kind int

const (
	// KindOther covers everything outside the recoverable set; fatal to the run
	KindOther Kind = iota

	// KindForbidden: a conflicting GPU-bearing resource already exists in scope
	KindForbidden

	// KindBadRequest: the accelerator/machine combination is not offered here
	KindBadRequest

	// KindUnavailable: transient capacity exhaustion
	KindUnavailable

	// KindConflict: an instance with the target name already exists
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	case KindUnavailable:
		return "unavailable"
	case KindConflict:
		return "conflict"
	default:
		return "other"
	}
}

// Recoverable reports whether the sweep may skip the region and continue
func (k Kind) Recoverable() bool {
	return k != KindOther
}

// Error is a provider failure tagged with its classification
type Error struct {
	Kind    Kind
	Op      string // verbose operation name, e.g. "instance creation"
	Code    string // provider error code, when available
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s failed [%s, code %s]: %s", e.Op, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s failed [%s]: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from err, or KindOther
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// classifyStatus maps an HTTP status code onto the closed kind set
func classifyStatus(code int) Kind {
	switch code {
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusServiceUnavailable:
		return KindUnavailable
	case http.StatusConflict:
		return KindConflict
	default:
		return KindOther
	}
}

// classifyGRPCCode maps a gRPC status code onto the closed kind set
func classifyGRPCCode(code codes.Code) Kind {
	switch code {
	case codes.PermissionDenied:
		return KindForbidden
	case codes.InvalidArgument:
		return KindBadRequest
	case codes.Unavailable, codes.ResourceExhausted:
		return KindUnavailable
	case codes.AlreadyExists:
		return KindConflict
	default:
		return KindOther
	}
}

// wrapGoogleAPI classifies an error returned by the Google Cloud API client
func wrapGoogleAPI(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &Error{
			Kind:    classifyStatus(gerr.Code),
			Op:      op,
			Code:    fmt.Sprintf("%d", gerr.Code),
			Message: gerr.Message,
			Err:     err,
		}
	}
	return &Error{Kind: KindOther, Op: op, Message: err.Error(), Err: err}
}

// wrapGRPC classifies a gRPC status error (Yandex Cloud SDK)
func wrapGRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		return &Error{
			Kind:    classifyGRPCCode(st.Code()),
			Op:      op,
			Code:    st.Code().String(),
			Message: st.Message(),
			Err:     err,
		}
	}
	return &Error{Kind: KindOther, Op: op, Message: err.Error(), Err: err}
}

// wrapAWS classifies an error returned by the AWS SDK
func wrapAWS(op string, err error) error {
	if err == nil {
		return nil
	}
	var rerr *awshttp.ResponseError
	if errors.As(err, &rerr) {
		return &Error{
			Kind:    classifyStatus(rerr.HTTPStatusCode()),
			Op:      op,
			Code:    fmt.Sprintf("%d", rerr.HTTPStatusCode()),
			Message: err.Error(),
			Err:     err,
		}
	}
	return &Error{Kind: KindOther, Op: op, Message: err.Error(), Err: err}
}

// wrapGodo classifies an error returned by the DigitalOcean client
func wrapGodo(op string, err error) error {
	if err == nil {
		return nil
	}
	var derr *godo.ErrorResponse
	if errors.As(err, &derr) && derr.Response != nil {
		return &Error{
			Kind:    classifyStatus(derr.Response.StatusCode),
			Op:      op,
			Code:    fmt.Sprintf("%d", derr.Response.StatusCode),
			Message: derr.Message,
			Err:     err,
		}
	}
	return &Error{Kind: KindOther, Op: op, Message: err.Error(), Err: err}
}
