package core

import "context"

type contextKey string

const workerContextKey contextKey = "worker"

// ContextWithWorker tags ctx with the name of the worker driving it.
func ContextWithWorker(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workerContextKey, name)
}

// WorkerFromContext returns the worker name, or "" when ctx is untagged.
func WorkerFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(workerContextKey).(string); ok {
		return name
	}
	return ""
}
