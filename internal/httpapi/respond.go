package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"adops.io/internal/adops"
	"adops.io/internal/audit"
	"adops.io/internal/auth"
	"adops.io/internal/privacy"
	"adops.io/internal/store"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, "", msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if code != "" {
		payload["code"] = code
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleError translates service and store error kinds into responses. It is
// the only place where storage failures become HTTP statuses.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, adops.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, privacy.ErrNotOwner):
		writeErrorCode(w, r, http.StatusForbidden, CodeForbidden, "you can only act on records you created")
	case errors.Is(err, auth.ErrForbidden):
		writeErrorCode(w, r, http.StatusForbidden, CodeForbidden, forbiddenMessage(err))
	case errors.Is(err, privacy.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, adops.ErrCardNameTaken):
		writeError(w, r, http.StatusConflict, "a card with this name already exists")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, r, http.StatusConflict, "resource already exists")
	case errors.Is(err, store.ErrReferenced):
		writeError(w, r, http.StatusConflict, "resource is referenced by other records")
	case errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, "resource was modified concurrently")
	default:
		a.internalError(w, r, err)
	}
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Error("request failed",
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	)
	msg := "internal server error"
	if a.dev {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	writeError(w, r, http.StatusInternalServerError, msg)
}

func (a *API) audit(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), a.log, event, fields); err != nil {
		a.log.Warn("audit log failed", zap.String("event", event), zap.Error(err))
	}
}

// currentUser returns the snapshot attached by authenticate. Handlers are only
// mounted behind protect, so a missing user is a wiring bug.
func currentUser(r *http.Request) *auth.UserContext {
	uc, _ := auth.UserFromContext(r.Context())
	return uc
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value must be between %d and %d", min, max)
	}
	return v, nil
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if limit, err = parsePositiveInt(q.Get("limit"), 0, 0, 500); err != nil {
		return 0, 0, fmt.Errorf("invalid limit: %w", err)
	}
	if offset, err = parsePositiveInt(q.Get("offset"), 0, 0, 1<<30); err != nil {
		return 0, 0, fmt.Errorf("invalid offset: %w", err)
	}
	return limit, offset, nil
}
