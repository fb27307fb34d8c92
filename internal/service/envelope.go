// Package service implements the HTTP service layer: request binding,
// response envelopes and delegation to the biz usecases.
package service

import (
	"context"
	"time"

	pkglog "Stencil/pkg/log"
)

// Meta carries per-request trace fields returned with every response.
type Meta struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	Timestamp     string `json:"timestamp"`
}

// ErrorItem is one error entry in an error envelope.
type ErrorItem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the uniform envelope for every JSON response.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    any         `json:"data,omitempty"`
	Errors  []ErrorItem `json:"errors,omitempty"`
	Meta    Meta        `json:"meta"`
}

// NewMeta builds response metadata from the request context.
func NewMeta(ctx context.Context) Meta {
	reqCtx := pkglog.GetRequestContext(ctx)
	return Meta{
		CorrelationID: reqCtx.CorrelationID,
		RequestID:     reqCtx.RequestID,
		ElapsedMs:     pkglog.GetElapsedTime(ctx),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// Success wraps data in a success envelope.
func Success(ctx context.Context, message string, data any) *Response {
	return &Response{
		Status:  "success",
		Message: message,
		Data:    data,
		Meta:    NewMeta(ctx),
	}
}

// Failure wraps errors in an error envelope. Used by the transport error
// encoder; handlers normally just return errors.
func Failure(ctx context.Context, message string, errs ...ErrorItem) *Response {
	return &Response{
		Status:  "error",
		Message: message,
		Errors:  errs,
		Meta:    NewMeta(ctx),
	}
}
