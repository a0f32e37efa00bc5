package boardserver

import (
	"context"
	"errors"
	"fmt"

	"boardsync/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// tracingMiddleware opens a server span per request, continuing any trace
// the caller propagated.
func tracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))

		ctx, span := observability.Tracer.Start(ctx, fmt.Sprintf("%s %s", c.Method(), c.Path()),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.path", c.Path()),
				attribute.String("http.ip", c.IP()),
			),
		)
		defer span.End()

		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			span.SetAttributes(attribute.String("request.id", rid))
		}
		c.Set("X-Trace-ID", span.SpanContext().TraceID().String())
		c.SetUserContext(ctx)

		err := c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Response().StatusCode()))
		if err != nil {
			span.RecordError(err)
		}
		if uid, ok := c.Locals("userID").(int64); ok {
			span.SetAttributes(attribute.Int64("user.id", uid))
		}
		return err
	}
}

const statementSpanKey = "boardsync:span"

type statementSpan struct {
	span   *observability.Span
	parent context.Context
}

// statementTracing is a gorm plugin that wraps every statement the store
// issues in a store.<operation> span.
type statementTracing struct{}

func (statementTracing) Name() string { return "boardsync:tracing" }

func (statementTracing) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("tracing:before_create", startStatement("create")),
		cb.Create().After("gorm:create").Register("tracing:after_create", endStatement),
		cb.Query().Before("gorm:query").Register("tracing:before_query", startStatement("query")),
		cb.Query().After("gorm:query").Register("tracing:after_query", endStatement),
		cb.Update().Before("gorm:update").Register("tracing:before_update", startStatement("update")),
		cb.Update().After("gorm:update").Register("tracing:after_update", endStatement),
		cb.Delete().Before("gorm:delete").Register("tracing:before_delete", startStatement("delete")),
		cb.Delete().After("gorm:delete").Register("tracing:after_delete", endStatement),
		cb.Row().Before("gorm:row").Register("tracing:before_row", startStatement("row")),
		cb.Row().After("gorm:row").Register("tracing:after_row", endStatement),
		cb.Raw().Before("gorm:raw").Register("tracing:before_raw", startStatement("raw")),
		cb.Raw().After("gorm:raw").Register("tracing:after_raw", endStatement),
	)
}

func startStatement(operation string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		parent := tx.Statement.Context
		if parent == nil {
			parent = context.Background()
		}
		span, ctx := observability.TraceStore(parent, tx.Dialector.Name(), operation, tx.Statement.Table)
		tx.Statement.Context = ctx
		tx.InstanceSet(statementSpanKey, statementSpan{span: span, parent: parent})
	}
}

func endStatement(tx *gorm.DB) {
	v, ok := tx.InstanceGet(statementSpanKey)
	if !ok {
		return
	}
	s, ok := v.(statementSpan)
	if !ok {
		return
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		s.span.SetError(tx.Error)
	}
	s.span.End()
	// a reused *gorm.DB must not parent its next statement on an ended span
	tx.Statement.Context = s.parent
}
