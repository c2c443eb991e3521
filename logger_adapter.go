package podguard

import (
	"context"

	"github.com/jonwraymond/podguard/observe"
)

// shutdownLogger adapts an observe.Logger to shutdown.Logger, turning the
// alternating key/value varargs settle/shutdown use into observe.Field
// values.
type shutdownLogger struct {
	logger observe.Logger
}

func (l shutdownLogger) Info(ctx context.Context, msg string, kv ...any) {
	l.logger.Info(ctx, msg, toFields(kv)...)
}

func (l shutdownLogger) Warn(ctx context.Context, msg string, kv ...any) {
	l.logger.Warn(ctx, msg, toFields(kv)...)
}

func (l shutdownLogger) Error(ctx context.Context, msg string, kv ...any) {
	l.logger.Error(ctx, msg, toFields(kv)...)
}

func toFields(kv []any) []observe.Field {
	fields := make([]observe.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, observe.Field{Key: key, Value: kv[i+1]})
	}
	return fields
}
