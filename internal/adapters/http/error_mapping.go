package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/avbelov/findoc-qa/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrChunkNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrBackendUnavailable),
		domain.IsKind(err, domain.ErrGenerationUnavailable),
		domain.IsKind(err, domain.ErrRerankUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// failedStageLabel names the pipeline stage for error payloads and metrics;
// empty when the failure carries no stage attribution.
func failedStageLabel(err error) string {
	if stage, ok := domain.FailedStage(err); ok {
		return string(stage)
	}
	return ""
}
