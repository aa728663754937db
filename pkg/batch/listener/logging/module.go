package logging

import (
	"go.uber.org/fx"

	"github.com/marloq/riptide/pkg/batch/core/port"
)

// Module provides the logging listeners under their listener ports.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewLoggingJobListener, fx.As(new(port.JobListener))),
		fx.Annotate(NewLoggingStepListener, fx.As(new(port.StepListener))),
		fx.Annotate(NewLoggingChunkListener, fx.As(new(port.ChunkListener))),
		fx.Annotate(NewLoggingSkipListener, fx.As(new(port.SkipListener))),
		fx.Annotate(NewLoggingRetryListener, fx.As(new(port.RetryListener))),
	),
)
