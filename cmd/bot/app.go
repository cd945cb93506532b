package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"rollcall/internal/driver"
	"rollcall/internal/kernel"
	"rollcall/internal/observability"
	"rollcall/modules/groups"
	"rollcall/modules/help"
	"rollcall/pkg/directory"
	"rollcall/pkg/rollcall"
)

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	env, err := loadEnv()
	if err != nil {
		return err
	}
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}
	cfg, err := loadConfig(registry, env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	kernelRuntime := buildKernelRuntime(logger, cfg)

	runtimes, err := registry.BuildEnabled(context.Background(), cfg.drivers, logger)
	if err != nil {
		return fmt.Errorf("build drivers: %w", err)
	}
	sinkDispatcher, err := driver.NewCompositeSinkDispatcher(runtimes)
	if err != nil {
		return fmt.Errorf("build sink dispatcher: %w", err)
	}

	collector := observability.NewCollector()
	groupDirectory := directory.NewService(
		directory.NewFileStore(cfg.groupsFile),
		directory.WithLogger(logger),
		directory.WithObserver(collector),
	)

	if err := registerRuntimeDrivers(kernelRuntime, runtimes); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, logger, sinkDispatcher, driver.NewCompositeUserDirectory(runtimes)); err != nil {
		return err
	}
	if err := registerRuntimeModules(context.Background(), kernelRuntime, groupDirectory, collector); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// The HTTP server and the watcher stop once the kernel returns.
		defer stop()
		if err := kernelRuntime.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	if cfg.httpEnabled {
		server := observability.NewServer(cfg.httpAddr, observability.NewRouter(collector), logger)
		group.Go(func() error {
			return server.Run(groupCtx)
		})
	}
	if cfg.groupsWatch {
		group.Go(func() error {
			return groupDirectory.Watch(groupCtx, cfg.groupsFile)
		})
	}

	logger.Info("rollcall started",
		"drivers", len(runtimes),
		"groups_file", cfg.groupsFile,
		"groups_watch", cfg.groupsWatch,
		"http_addr", cfg.httpAddr,
		"http_enabled", cfg.httpEnabled,
	)

	return group.Wait()
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithModuleRouting(cfg.routingDefault, cfg.moduleRoutes),
	)
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	sinkDispatcher rollcall.SinkDispatcher,
	users rollcall.UserDirectory,
) error {
	if err := kernelRuntime.RegisterService(rollcall.ServiceLogger, logger); err != nil {
		return fmt.Errorf("register logger service: %w", err)
	}
	if sinkDispatcher == nil {
		return fmt.Errorf("register sink dispatcher service: nil dispatcher")
	}
	if err := kernelRuntime.RegisterService(rollcall.ServiceSinkDispatcher, sinkDispatcher); err != nil {
		return fmt.Errorf("register sink dispatcher service: %w", err)
	}
	if users != nil {
		if err := kernelRuntime.RegisterService(rollcall.ServiceUserDirectory, users); err != nil {
			return fmt.Errorf("register user directory service: %w", err)
		}
	}

	return nil
}

func registerRuntimeModules(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	groupDirectory groups.Directory,
	recorder groups.Recorder,
) error {
	groupsModule := groups.New(groupDirectory, groups.WithRecorder(recorder))
	if err := kernelRuntime.RegisterModule(ctx, groupsModule); err != nil {
		return fmt.Errorf("register groups module: %w", err)
	}
	helpModule := help.New()
	if err := kernelRuntime.RegisterModule(ctx, helpModule); err != nil {
		return fmt.Errorf("register help module: %w", err)
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, runtimes []driver.Runtime) error {
	for _, runtime := range runtimes {
		if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtime.Driver.Name(), err)
		}
	}

	return nil
}
