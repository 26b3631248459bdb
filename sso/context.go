package sso

import "context"

type objectContextKey struct{}

// WithObject returns a copy of ctx carrying obj.
func WithObject(ctx context.Context, obj *Object) context.Context {
	return context.WithValue(ctx, objectContextKey{}, obj)
}

// FromContext returns the Object attached by the middleware.
func FromContext(ctx context.Context) (*Object, bool) {
	obj, ok := ctx.Value(objectContextKey{}).(*Object)
	return obj, ok && obj != nil
}
