package events

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher notifies collaborators (booking service, notification fanout)
// about settlement state changes. Delivery is best effort; settlement state
// is already committed before Notify is called.
type Publisher interface {
	Notify(ctx context.Context, event string, subjectID snowflake.ID, fields map[string]string)
}

type Params struct {
	fx.In

	Log *zap.Logger
}

type logPublisher struct {
	log *zap.Logger
}

func NewPublisher(p Params) Publisher {
	return &logPublisher{log: p.Log.Named("events")}
}

func (p *logPublisher) Notify(ctx context.Context, event string, subjectID snowflake.ID, fields map[string]string) {
	attrs := make([]zap.Field, 0, len(fields)+2)
	attrs = append(attrs,
		zap.String("event", event),
		zap.String("subject_id", subjectID.String()),
	)
	for k, v := range fields {
		attrs = append(attrs, zap.String(k, v))
	}
	p.log.Info("settlement event", attrs...)
}

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)
