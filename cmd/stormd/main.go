package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/radstorm/storm-server-go/internal/command"
	"github.com/radstorm/storm-server-go/internal/config"
	"github.com/radstorm/storm-server-go/internal/dispatch"
	"github.com/radstorm/storm-server-go/internal/storm"
	"github.com/radstorm/storm-server-go/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	configPath   = flag.String("config", "config/config.yaml", "path to configuration file")
	scenarioPath = flag.String("scenario", "", "optional world scenario to load")
	version      = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting radiation storm server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("radiation storm server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := loadWorld(*scenarioPath, logger)
	if err != nil {
		return err
	}

	loop := dispatch.NewLoop(256, logger.Named("dispatch"))
	svc, err := storm.New(storm.Options{
		Config:       cfg,
		Dispatcher:   loop,
		Participants: w,
		Damage:       w,
		Effects:      w,
		Environment:  w,
		SafeVolumes:  w,
		Objects:      w,
		Regions:      w,
		Logger:       logger.Named("storm"),
	})
	if err != nil {
		return fmt.Errorf("create storm service: %w", err)
	}

	messages := command.NewMessages(cfg.Messages)
	radiation := command.NewRadiation(svc, messages, logger.Named("command"))
	announcer := command.NewAnnouncer(svc.Bus(), w, messages, cfg.Storm.BroadcastMessages, logger.Named("announcer"))
	defer announcer.Close()

	// The loop outlives the signal context so Close can still undo a running
	// storm during shutdown.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		return loop.Run(gctx)
	})

	if err := svc.Open(ctx); err != nil {
		stopLoop()
		_ = g.Wait()
		return fmt.Errorf("open storm service: %w", err)
	}
	logger.Info("radiation storm server initialized",
		zap.Int("players", len(w.Players())),
		zap.Bool("auto_storm", cfg.AutoStorm.Enabled),
	)

	if *configPath != "" {
		err := config.Watch(*configPath, func(next *config.Config) {
			if err := svc.Reload(ctx, next); err != nil {
				logger.Warn("failed to apply reloaded configuration", zap.Error(err))
				return
			}
			msgs := command.NewMessages(next.Messages)
			radiation.SetMessages(msgs)
			announcer.Configure(msgs, next.Storm.BroadcastMessages)
		}, func(err error) {
			logger.Warn("configuration reload failed, keeping previous configuration", zap.Error(err))
		})
		if err != nil {
			logger.Warn("configuration watch disabled", zap.Error(err))
		}
	}

	console := &console{
		in:        os.Stdin,
		out:       os.Stdout,
		world:     w,
		svc:       svc,
		radiation: radiation,
		caller:    command.NewConsole(os.Stdout),
		logger:    logger.Named("console"),
		quit:      cancel,
	}
	go console.run(ctx)

	select {
	case <-ctx.Done():
	case <-gctx.Done():
	}
	logger.Info("shutting down gracefully...")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := svc.Close(closeCtx); err != nil && !errors.Is(err, dispatch.ErrClosed) {
		logger.Warn("failed to close storm service", zap.Error(err))
	}
	stopLoop()
	return g.Wait()
}

func loadWorld(path string, logger *zap.Logger) (*world.World, error) {
	if path == "" {
		return world.New(logger.Named("world")), nil
	}
	sc, err := world.LoadScenario(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	return sc.Build(logger.Named("world"))
}

// console reads operator commands from stdin.
type console struct {
	in        io.Reader
	out       io.Writer
	world     *world.World
	svc       *storm.Service
	radiation *command.Radiation
	caller    command.Caller
	logger    *zap.Logger
	quit      func()
}

func (c *console) run(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := c.handle(ctx, fields); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("console input failed", zap.Error(err))
	}
}

func (c *console) handle(ctx context.Context, fields []string) error {
	name, args := fields[0], fields[1:]
	if c.radiation.Matches(name) {
		err := c.radiation.Execute(ctx, c.caller, args)
		if errors.Is(err, command.ErrPermissionDenied) {
			return nil
		}
		return err
	}

	switch strings.ToLower(name) {
	case "join":
		if len(args) < 1 {
			return errors.New("usage: join <name> [x y z]")
		}
		pos, err := parsePosition(args[1:])
		if err != nil {
			return err
		}
		id, err := c.world.Join(args[0], pos, false)
		if err != nil {
			return err
		}
		c.svc.ParticipantJoined(id)
		fmt.Fprintf(c.out, "%s joined as %s\n", args[0], id)
	case "leave":
		if len(args) != 1 {
			return errors.New("usage: leave <name>")
		}
		p, ok := c.world.PlayerByName(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", world.ErrUnknownPlayer, args[0])
		}
		return c.world.Leave(p.ID)
	case "move":
		if len(args) != 4 {
			return errors.New("usage: move <name> <x> <y> <z>")
		}
		p, ok := c.world.PlayerByName(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", world.ErrUnknownPlayer, args[0])
		}
		pos, err := parsePosition(args[1:])
		if err != nil {
			return err
		}
		return c.world.Move(p.ID, pos)
	case "players":
		for _, p := range c.world.Players() {
			fmt.Fprintf(c.out, "%-12s hp=%3d/%-3d pos=(%.1f, %.1f, %.1f) effects=%v dead=%t\n",
				p.Name, p.HP, p.MaxHP, p.Position.X, p.Position.Y, p.Position.Z, p.Effects, p.Dead)
		}
	case "quit", "exit":
		c.quit()
	default:
		fmt.Fprintln(c.out, "commands: radiation <start|stop|status>, join, leave, move, players, quit")
	}
	return nil
}

func parsePosition(args []string) (storm.Vec3, error) {
	if len(args) == 0 {
		return storm.Vec3{}, nil
	}
	if len(args) != 3 {
		return storm.Vec3{}, errors.New("position needs x y z")
	}
	var xyz [3]float64
	for i, s := range args {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return storm.Vec3{}, fmt.Errorf("invalid coordinate %q: %w", s, err)
		}
		xyz[i] = v
	}
	return storm.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
