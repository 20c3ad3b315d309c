/*
Package log provides stream-scoped structured logging, Context with logging metadata, as well as
logging helper functions.
*/
package log

import (
	"context"
)

// unique type to prevent assignment.
type clogContextKeyType struct{}

// singleton value to identify our logging metadata in context
var clogContextKey = clogContextKeyType{}

// basic type to represent logging container. logging context is immutable after
// creation, so we don't have to worry about locking.
type metadata map[string]any

func (m metadata) Flat() []any {
	out := []any{}
	for k, v := range m {
		if k == "stream_id" {
			// carried by the per-stream logger itself
			continue
		}
		out = append(out, k)
		out = append(out, v)
	}
	return out
}

// Return a new context, adding in the provided values to the logging metadata
func WithLogValues(ctx context.Context, args ...string) context.Context {
	oldMetadata, _ := ctx.Value(clogContextKey).(metadata)
	// No previous logging found, set up a new map
	if oldMetadata == nil {
		oldMetadata = metadata{}
	}
	var newMetadata = metadata{}
	for k, v := range oldMetadata {
		newMetadata[k] = v
	}
	for i := range args {
		if i%2 == 0 {
			continue
		}
		newMetadata[args[i-1]] = args[i]
	}
	return context.WithValue(ctx, clogContextKey, newMetadata)
}

func LogCtx(ctx context.Context, message string, args ...any) {
	streamID, allArgs := fromCtx(ctx, args)
	if streamID == "" {
		LogNoStreamID(message, allArgs...)
	} else {
		Log(streamID, message, allArgs...)
	}
}

func WarnCtx(ctx context.Context, message string, args ...any) {
	streamID, allArgs := fromCtx(ctx, args)
	if streamID == "" {
		WarnNoStreamID(message, allArgs...)
	} else {
		Warn(streamID, message, allArgs...)
	}
}

func fromCtx(ctx context.Context, args []any) (string, []any) {
	var streamID string
	meta, _ := ctx.Value(clogContextKey).(metadata)
	if meta != nil {
		streamID, _ = meta["stream_id"].(string)
	}
	allArgs := append([]any{}, meta.Flat()...)
	allArgs = append(allArgs, args...)
	return streamID, allArgs
}
