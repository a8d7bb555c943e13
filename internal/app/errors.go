package app

import (
	"errors"
	"fmt"
	"net/http"

	"composer/api/internal/contentsvc"
	"composer/api/internal/gitrepo"
	"composer/api/internal/page"
	"composer/api/internal/preview"
	"composer/api/internal/region"
	"composer/api/internal/store"
)

var ErrSessionNotFound = errors.New("editing session not found")

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// editError converts a failed region edit into the error reported to the
// client.
func editError(result region.EditResult, regionID string) error {
	switch result {
	case region.NotFound:
		return domainError(http.StatusNotFound, "REGION_NOT_FOUND", "Region not found", map[string]any{"regionId": regionID})
	case region.NotEligible:
		return domainError(http.StatusConflict, "NOT_ELIGIBLE", "Region belongs to the template and cannot be changed on this page", map[string]any{"regionId": regionID})
	default:
		return nil
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var serviceErr *contentsvc.ServiceError
	if errors.As(err, &serviceErr) {
		details := map[string]any{"operation": serviceErr.Op, "status": serviceErr.Status}
		if serviceErr.Status == http.StatusNotFound {
			return http.StatusNotFound, "NOT_FOUND", serviceErr.Message, details
		}
		return http.StatusBadGateway, "SERVICE_ERROR", serviceErr.Message, details
	}

	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND", "Editing session not found", nil
	case errors.Is(err, page.ErrNotLoaded):
		return http.StatusConflict, "NOT_LOADED", "Page is not loaded", nil
	case errors.Is(err, page.ErrLoadSuperseded):
		return http.StatusConflict, "LOAD_SUPERSEDED", "A newer load replaced this one", nil
	case errors.Is(err, page.ErrCheckoutConflict):
		return http.StatusConflict, "CHECKOUT_CONFLICT", "Page is not checked out to you", nil
	case errors.Is(err, page.ErrSaveInProgress):
		return http.StatusConflict, "SAVE_IN_PROGRESS", "A save is already running", nil
	case errors.Is(err, page.ErrRegionNotFound):
		return http.StatusNotFound, "REGION_NOT_FOUND", "Region not found", nil
	case errors.Is(err, page.ErrRegionNotEligible):
		return http.StatusConflict, "NOT_ELIGIBLE", "Region cannot be changed on this page", nil
	case errors.Is(err, page.ErrWidgetNotFound):
		return http.StatusNotFound, "WIDGET_NOT_FOUND", "Widget not found", nil
	case errors.Is(err, page.ErrContentLocked):
		return http.StatusConflict, "CONTENT_LOCKED", "Widget content is locked by the template", nil
	case errors.Is(err, region.ErrDuplicateRegionID):
		return http.StatusConflict, "DUPLICATE_REGION_ID", err.Error(), nil
	case errors.Is(err, region.ErrReservedAttribute):
		return http.StatusUnprocessableEntity, "RESERVED_ATTRIBUTE", err.Error(), nil
	case errors.Is(err, region.ErrUnknownViewType), errors.Is(err, preview.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, preview.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PREVIEW_UNAVAILABLE", "PDF preview is not available on this server", nil
	case errors.Is(err, gitrepo.ErrNoHistory), errors.Is(err, gitrepo.ErrRevisionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
