// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package errutil

import (
	"context"
	"log/slog"
	"sort"

	"github.com/samber/oops"
)

// LogError logs err at error level through ctx, so handlers that read the
// context (request id, trace ids) can annotate the record. oops errors
// contribute their code and context map as attributes.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.LogAttrs(ctx, slog.LevelError, msg, errorAttrs(err)...)
}

func errorAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{slog.String("error", oopsErr.Error())}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, slog.Any("code", code))
	}
	if values := oopsErr.Context(); len(values) > 0 {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		group := make([]any, 0, len(keys))
		for _, k := range keys {
			group = append(group, slog.Any(k, values[k]))
		}
		attrs = append(attrs, slog.Group("context", group...))
	}
	return attrs
}
