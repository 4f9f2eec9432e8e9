package worker

import (
	"context"

	"github.com/smallbiznis/meterline/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("worker",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Start),
)

// Start runs the loops for the lifetime of the application unless the
// worker is disabled.
func Start(lc fx.Lifecycle, cfg config.Config, w *Worker) {
	if !cfg.Worker.Enabled {
		return
	}

	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				w.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
