package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/CollideNV/hadron/internal/store"
)

// mapStoreError adapts the teacher's pkg/api/errors.go mapServiceError to
// Hadron's store sentinel errors.
func mapStoreError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, store.ErrDuplicateRun):
		return echo.NewHTTPError(http.StatusConflict, "a run for this (source, external_id) is already in flight")
	case errors.Is(err, store.ErrCheckpointRace):
		return echo.NewHTTPError(http.StatusConflict, "checkpoint sequence already written")
	default:
		slog.Error("unexpected store error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
