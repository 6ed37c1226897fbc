package engine

import (
	"errors"
	"fmt"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/record"
	"chaos-orm/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

// WriteFailedError reports every failed outcome of res. Code and status
// follow the first failure.
func WriteFailedError(res *Result) *AppError {
	appErr := &AppError{Code: "WRITE_FAILED", Status: 500, Message: "Save failed"}
	first := true
	for _, o := range res.Outcomes {
		if o.Err == nil {
			continue
		}
		if first {
			cause := FromError(o.Err)
			appErr.Code, appErr.Status = cause.Code, cause.Status
			first = false
		}
		appErr.Details = append(appErr.Details, ErrorDetail{
			Field:   o.Entity,
			Rule:    o.Action,
			Message: o.Err.Error(),
		})
	}
	return appErr
}

// FromError maps an error from the lower layers onto an AppError.
// Unrecognised errors become INTERNAL_ERROR.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var writeErr *WriteError
	if errors.As(err, &writeErr) {
		return WriteFailedError(writeErr.Result)
	}

	switch {
	case errors.Is(err, metadata.ErrUnknownEntity):
		return NewAppError("UNKNOWN_ENTITY", 404, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return NewAppError("NOT_FOUND", 404, err.Error())
	case errors.Is(err, metadata.ErrUnresolvedRelation):
		return NewAppError("UNRESOLVED_RELATION", 400, err.Error())
	case errors.Is(err, record.ErrUnknownField):
		return NewAppError("UNKNOWN_FIELD", 400, err.Error())
	case errors.Is(err, dialect.ErrMalformedCondition):
		return NewAppError("MALFORMED_CONDITION", 400, err.Error())
	case errors.Is(err, dialect.ErrMissingClause):
		return NewAppError("MISSING_CLAUSE", 500, err.Error())
	case errors.Is(err, metadata.ErrConfig):
		return NewAppError("CONFIG_ERROR", 500, err.Error())
	case errors.Is(err, store.ErrUniqueViolation):
		return NewAppError("CONFLICT", 409, err.Error())
	}
	return NewAppError("INTERNAL_ERROR", 500, "Internal server error")
}
