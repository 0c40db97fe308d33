// Provides middleware for standardizing HTTP handlers.

package server

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/maruel/avatardb/internal/server/auth"
	"github.com/maruel/avatardb/internal/server/dto"
	"github.com/maruel/avatardb/internal/server/ratelimit"
	"github.com/maruel/avatardb/internal/server/reqctx"
)

// checkRateLimit checks rate limit and wraps the response writer if needed.
// Returns the (possibly wrapped) writer and whether the request should proceed.
func checkRateLimit(w http.ResponseWriter, l *ratelimit.Limiter, key string) (http.ResponseWriter, bool) {
	if l == nil {
		return w, true
	}
	result := l.Allow(key)
	w = ratelimit.NewResponseWriter(w, result)
	if !result.Allowed {
		writeError(w, dto.RateLimitExceeded(int(result.RetryAfter.Seconds())))
		return w, false
	}
	return w, true
}

// Wrap wraps a public handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Path parameters are extracted into struct fields tagged `path:"name"`,
// query parameters into fields tagged `query:"name"`.
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		if w, ok = checkRateLimit(w, cfg.ReadLimiter, "ip:"+reqctx.ClientIP(r.Context())); !ok {
			return
		}
		serve[In, PtrIn, Out](w, r, fn, cfg)
	})
}

// WrapEditor wraps an admin write handler. The request must come from the
// app origin, carry a credential with at least the editor role and be within
// the caller's rate limit, all before the body is read.
func WrapEditor[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if cfg.AppOrigin != "" && r.Header.Get("Origin") != cfg.AppOrigin {
			slog.WarnContext(ctx, "Rejected origin", "origin", r.Header.Get("Origin"))
			writeError(w, dto.Forbidden("origin not allowed"))
			return
		}
		claims, err := auth.Verify(r.Header.Get("Authorization"), cfg.JWTSecret)
		if err != nil {
			slog.InfoContext(ctx, "Rejected credential", "err", err)
			writeError(w, dto.Unauthorized("a valid editor credential is required"))
			return
		}
		if !claims.Role.Allows(auth.RoleEditor) {
			writeError(w, dto.Forbidden("insufficient role"))
			return
		}
		var ok bool
		if w, ok = checkRateLimit(w, cfg.WriteLimiter, "user:"+claims.Subject); !ok {
			return
		}
		ctx = reqctx.WithCaller(ctx, &reqctx.Caller{Subject: claims.Subject, Email: claims.Email, Role: string(claims.Role)})
		serve[In, PtrIn, Out](w, r.WithContext(ctx), fn, cfg)
	})
}

// WrapSecret wraps a handler guarded by the shared revalidation secret in
// the X-Revalidate-Secret header.
func WrapSecret[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.CheckSecret(cfg.RevalidateSecret, r.Header.Get("X-Revalidate-Secret")) {
			writeError(w, dto.Unauthorized("invalid revalidation secret"))
			return
		}
		serve[In, PtrIn, Out](w, r, fn, cfg)
	})
}

// serve decodes and validates the request, then calls fn.
func serve[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](w http.ResponseWriter, r *http.Request, fn func(context.Context, PtrIn) (*Out, error), cfg *Config) {
	ctx := r.Context()
	input := new(In)
	if !readAndDecodeBody(ctx, w, r, input, cfg.MaxRequestBodyBytes) {
		return
	}
	populatePathParams(r, input)
	populateQueryParams(r, input)
	if err := PtrIn(input).Validate(); err != nil {
		handleValidationError(ctx, w, err)
		return
	}
	output, err := fn(ctx, PtrIn(input))
	writeJSONResponse(ctx, w, output, err)
}

// readAndDecodeBody reads the request body with size limit and decodes JSON into input.
// Returns false if an error occurred and was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, limit int64) bool {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, dto.PayloadTooLarge(maxBytesErr.Limit))
			return false
		}
		slog.ErrorContext(ctx, "Failed to read request body", "err", err)
		writeError(w, dto.BadRequest("Failed to read request body"))
		return false
	}
	if len(body) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		if err := d.Decode(input); err != nil {
			slog.InfoContext(ctx, "Failed to decode request body", "err", err)
			writeError(w, dto.BadRequest("Invalid request body"))
			return false
		}
	}
	return true
}

// writeJSONResponse writes a JSON response or error response.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, output *Out, err error) {
	if err != nil {
		apiErr := dto.FromStorage(err)
		if apiErr.StatusCode() >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", apiErr.StatusCode(), "code", apiErr.Code())
		} else {
			slog.InfoContext(ctx, "Handler error", "err", err, "statusCode", apiErr.StatusCode(), "code", apiErr.Code())
		}
		writeError(w, apiErr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

func populatePathParams(r *http.Request, input any) {
	elem, ok := structOf(input)
	if !ok {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("path")
		if tag == "" || field.Type.Kind() != reflect.String {
			continue
		}
		if v := r.PathValue(tag); v != "" {
			elem.Field(i).SetString(v)
		}
	}
}

func populateQueryParams(r *http.Request, input any) {
	elem, ok := structOf(input)
	if !ok {
		return
	}
	query := r.URL.Query()
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("query")
		if tag == "" {
			continue
		}
		paramValue := query.Get(tag)
		if paramValue == "" {
			continue
		}
		fieldVal := elem.Field(i)
		switch field.Type.Kind() {
		case reflect.String:
			fieldVal.SetString(paramValue)
		case reflect.Bool:
			if b, err := strconv.ParseBool(paramValue); err == nil {
				fieldVal.SetBool(b)
			}
		case reflect.Int:
			if intVal, err := strconv.Atoi(paramValue); err == nil {
				fieldVal.SetInt(int64(intVal))
			}
		default:
			// Custom types implementing encoding.TextUnmarshaler.
			if u, ok := fieldVal.Addr().Interface().(encoding.TextUnmarshaler); ok {
				_ = u.UnmarshalText([]byte(paramValue))
			}
		}
	}
}

func structOf(input any) (reflect.Value, bool) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer || val.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return val.Elem(), true
}

// handleValidationError handles a validation error from a request's Validate method.
func handleValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr *dto.APIError
	if !errors.As(err, &apiErr) {
		apiErr = dto.BadRequest(err.Error())
	}
	slog.InfoContext(ctx, "Validation error", "err", err, "code", apiErr.Code())
	writeError(w, apiErr)
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, apiErr *dto.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())
	response := dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: apiErr.Code(), Message: apiErr.Error()},
		Details: apiErr.Details(),
	}
	if len(response.Details) == 0 {
		response.Details = nil
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
