package driver

import (
	"context"
	"fmt"
	"log/slog"

	"rollcall/internal/driver/slack"
	"rollcall/internal/driver/telegram"
)

// NewBuiltinRegistry returns a registry with the Slack and Telegram drivers.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type:     slack.DriverType,
			Platform: slack.DriverPlatform,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
				built, err := slack.BuildRuntime(definition.Name, logger, definition.Config)
				if err != nil {
					return Runtime{}, fmt.Errorf("build slack runtime: %w", err)
				}

				return Runtime{
					Source:         built.Source(),
					Driver:         built,
					SinkDispatcher: built,
					UserDirectory:  built.UserDirectory(),
				}, nil
			},
		},
		{
			Type:     telegram.DriverType,
			Platform: telegram.DriverPlatform,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
				source, runtimeDriver, sinkDispatcher, err := telegram.BuildRuntimeFromConfig(
					definition.Name,
					logger,
					definition.Config,
				)
				if err != nil {
					return Runtime{}, fmt.Errorf("build telegram runtime: %w", err)
				}

				return Runtime{
					Source:         source,
					Driver:         runtimeDriver,
					SinkDispatcher: sinkDispatcher,
				}, nil
			},
		},
	})
}
