package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/s3-authserver/internal/model"
)

// Error codes without a constant in the IAM service package.
const (
	ErrCodeInvalidParameterValue = "InvalidParameterValue"
	ErrCodeInvalidAction         = "InvalidAction"
	ErrCodeAccessDenied          = "AccessDenied"
	ErrCodeServiceUnavailable    = "ServiceUnavailable"
	ErrCodeInternalFailure       = "InternalFailure"
)

const (
	accessDeniedMessage       = "The request was rejected because the credentials or signature provided are not valid."
	accountExistsMessage      = "The request was rejected because it attempted to create an account that already exists."
	serviceUnavailableMessage = "The request has failed due to a temporary failure of the server. Try again later."
	internalFailureMessage    = "The request processing has failed because of an unknown error."
)

// errInvalidAction is returned for an Action the server does not handle.
var errInvalidAction = errors.New("invalid action")

type apiError struct {
	status  int
	code    string
	message string
}

// toAPIError maps err onto an HTTP status and IAM error code. Every
// authentication failure yields the same response.
func toAPIError(err error) apiError {
	var entityErr *model.EntityError
	switch {
	case errors.Is(err, model.ErrAccessDenied):
		return apiError{http.StatusForbidden, ErrCodeAccessDenied, accessDeniedMessage}
	case errors.Is(err, errInvalidAction):
		return apiError{http.StatusBadRequest, ErrCodeInvalidAction, err.Error()}
	case errors.Is(err, model.ErrValidation):
		return apiError{http.StatusBadRequest, ErrCodeInvalidParameterValue, err.Error()}
	case errors.Is(err, model.ErrNoSuchEntity):
		return apiError{http.StatusNotFound, iam.ErrCodeNoSuchEntityException, entityMessage(err, "The %s with name %s cannot be found.")}
	case errors.Is(err, model.ErrEntityAlreadyExists):
		if errors.As(err, &entityErr) && entityErr.Kind == model.KindAccount {
			return apiError{http.StatusConflict, iam.ErrCodeEntityAlreadyExistsException, accountExistsMessage}
		}
		return apiError{http.StatusConflict, iam.ErrCodeEntityAlreadyExistsException, entityMessage(err, "The %s with name %s already exists.")}
	case errors.Is(err, model.ErrDeleteConflict):
		return apiError{http.StatusConflict, iam.ErrCodeDeleteConflictException, deleteConflictMessage(err)}
	case errors.Is(err, model.ErrServiceUnavailable):
		return apiError{http.StatusServiceUnavailable, ErrCodeServiceUnavailable, serviceUnavailableMessage}
	default:
		return apiError{http.StatusInternalServerError, ErrCodeInternalFailure, internalFailureMessage}
	}
}

// entityMessage formats the kind and name carried by an *model.EntityError
// into format. Other errors keep their own text.
func entityMessage(err error, format string) string {
	var entityErr *model.EntityError
	if !errors.As(err, &entityErr) {
		return err.Error()
	}
	kind := strings.ReplaceAll(entityErr.Kind.String(), "_", " ")
	return fmt.Sprintf(format, kind, entityErr.Name)
}

func deleteConflictMessage(err error) string {
	var entityErr *model.EntityError
	if !errors.As(err, &entityErr) || entityErr.Cause == nil {
		return entityMessage(err, "Cannot delete the %s with name %s.")
	}
	return entityMessage(err, "Cannot delete the %s with name %s: ") + entityErr.Cause.Error() + "."
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	info := infoFrom(r.Context())

	fields := map[string]any{
		"action": info.action,
		"code":   apiErr.code,
		"status": apiErr.status,
		"error":  err.Error(),
	}
	if apiErr.status >= http.StatusInternalServerError {
		tflog.SubsystemError(r.Context(), Subsystem, "Request failed", fields)
	} else {
		tflog.SubsystemInfo(r.Context(), Subsystem, "Request refused", fields)
	}

	resp := &ErrorResponse{}
	resp.Error.Type = "Sender"
	if apiErr.status >= http.StatusInternalServerError {
		resp.Error.Type = "Receiver"
	}
	resp.Error.Code = apiErr.code
	resp.Error.Message = apiErr.message
	resp.setRequestID(info.id)
	writeXML(w, r, apiErr.status, resp)
}
