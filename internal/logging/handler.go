// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

// Package logging configures slog for the access-control services. Every
// record carries the service identity, and records logged through a context
// holding an active span pick up the OpenTelemetry trace and span ids so
// decision logs can be joined to distributed traces.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// spanHandler decorates an inner handler with identity attrs and the caller's
// span context.
type spanHandler struct {
	inner    slog.Handler
	identity []slog.Attr
}

func (h *spanHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.identity...)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.inner.Handle(ctx, r)
}

func (h *spanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &spanHandler{inner: h.inner.WithAttrs(attrs), identity: h.identity}
}

func (h *spanHandler) WithGroup(name string) slog.Handler {
	return &spanHandler{inner: h.inner.WithGroup(name), identity: h.identity}
}

// Setup builds a logger writing to w, or os.Stderr when w is nil. Recognized
// formats are "text" and "json"; anything else falls back to JSON so a typo
// in configuration cannot silence logging.
func Setup(service, version, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var inner slog.Handler
	switch format {
	case "text":
		inner = slog.NewTextHandler(w, opts)
	default:
		inner = slog.NewJSONHandler(w, opts)
	}

	return slog.New(&spanHandler{
		inner: inner,
		identity: []slog.Attr{
			slog.String("service", service),
			slog.String("version", version),
		},
	})
}

// SetDefault installs a Setup logger as the process default.
func SetDefault(service, version, format string) {
	slog.SetDefault(Setup(service, version, format, nil))
}
