package requestid

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// Header es la cabecera usada como id de correlación.
const Header = "X-Request-ID"

func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func From(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Field devuelve el campo zap con el id de correlación del contexto.
func Field(ctx context.Context) zap.Field {
	return zap.String("request_id", From(ctx))
}
