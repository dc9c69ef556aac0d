package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// CallerHeader carries the hex address the request acts on behalf of. It is
// not signed: any holder of the API key can act as any address, so bitpesad
// must sit behind a gateway that authenticates users and sets this header.
const CallerHeader = "X-Caller"

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var statusByErr = []struct {
	err    error
	status int
}{
	{domain.ErrValidation, http.StatusBadRequest},
	{domain.ErrOverflow, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusForbidden},
	{domain.ErrBadSignature, http.StatusUnauthorized},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrAlreadyExists, http.StatusConflict},
	{domain.ErrAlreadyLiquidated, http.StatusConflict},
	{domain.ErrAlreadyRepaid, http.StatusConflict},
	{domain.ErrAlreadyReleased, http.StatusConflict},
	{domain.ErrInvalidTransition, http.StatusConflict},
	{domain.ErrReplayedNonce, http.StatusConflict},
	{domain.ErrLockHeld, http.StatusConflict},
	{domain.ErrInsufficientCollateral, http.StatusUnprocessableEntity},
	{domain.ErrBelowRequiredRatio, http.StatusUnprocessableEntity},
	{domain.ErrAboveLiquidationThreshold, http.StatusUnprocessableEntity},
	{domain.ErrTriggerNotSatisfied, http.StatusUnprocessableEntity},
	{domain.ErrUnsupportedChain, http.StatusUnprocessableEntity},
	{domain.ErrPlanRevoked, http.StatusUnprocessableEntity},
	{domain.ErrStalePrice, http.StatusServiceUnavailable},
}

// statusFor maps an engine or store failure to an HTTP status.
func statusFor(err error) int {
	for _, s := range statusByErr {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// writeDomainError reports err with its machine-readable code. Internal
// failures are logged and their detail withheld from the client.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg, "code": domain.Code(err)})
}

// decodeJSON reads a single JSON object from the request body. Unknown
// fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}

// requireCaller returns the identity in the X-Caller header, answering 401
// when it is absent and 400 when it is malformed.
func requireCaller(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	v := strings.TrimSpace(r.Header.Get(CallerHeader))
	if v == "" {
		writeError(w, http.StatusUnauthorized, "missing "+CallerHeader+" header")
		return domain.Address{}, false
	}
	a, err := domain.ParseAddress(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.Address{}, false
	}
	return a, true
}

// addressParam parses a hex address taken from the path or query.
func addressParam(name, v string) (domain.Address, error) {
	if v == "" {
		return domain.Address{}, fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	return domain.ParseAddress(v)
}

// optionalAddress parses an address that may be the zero address. An empty
// string yields nil.
func optionalAddress(name, v string) (*domain.Address, error) {
	if v == "" {
		return nil, nil
	}
	if !common.IsHexAddress(v) {
		return nil, fmt.Errorf("%w: %s %q is not a hex address", domain.ErrValidation, name, v)
	}
	a := common.HexToAddress(v)
	return &a, nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// page applies opts to an in-memory listing.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) {
		return []T{}
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
