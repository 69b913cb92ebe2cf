package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/airwav/airwav/internal/api"
	"github.com/airwav/airwav/internal/api/handlers"
	"github.com/airwav/airwav/internal/builder"
	"github.com/airwav/airwav/internal/cache"
	"github.com/airwav/airwav/internal/catalog"
	"github.com/airwav/airwav/internal/commentary"
	"github.com/airwav/airwav/internal/config"
	"github.com/airwav/airwav/internal/engine"
	"github.com/airwav/airwav/internal/ffmpeg"
	"github.com/airwav/airwav/internal/httpclient"
	"github.com/airwav/airwav/internal/janitor"
	"github.com/airwav/airwav/internal/logs"
	"github.com/airwav/airwav/internal/metrics"
	"github.com/airwav/airwav/internal/mqtt"
	"github.com/airwav/airwav/internal/queue"
	"github.com/airwav/airwav/internal/render"
	"github.com/airwav/airwav/internal/scheduler"
	"github.com/airwav/airwav/internal/sink"
	"github.com/airwav/airwav/internal/state"
	"github.com/airwav/airwav/internal/storage"
	"github.com/airwav/airwav/internal/tts"
	"github.com/airwav/airwav/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the airwav broadcast server",
	Long: `Start the airwav playout engine and dashboard API server.

The server provides:
- Continuous RTMP playout of the configured catalog
- REST API for queue, transport and rotation control
- SSE and WebSocket event streams for the dashboard
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind the server to")
	serveCmd.Flags().Int("port", 3000, "Port to bind the server to")
	serveCmd.Flags().String("catalog", "", "Path to the track catalog JSON")
	serveCmd.Flags().String("work-dir", "/tmp/rj", "Directory for rendered audio and the playout FIFO")
	serveCmd.Flags().String("rtmp-url", "rtmp://localhost:1935/live/radio", "RTMP ingest URL to stream to")
	serveCmd.Flags().Bool("timeline", false, "Schedule playout on the two-deck timeline with crossfades")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("catalog.path", serveCmd.Flags().Lookup("catalog"))
	mustBindPFlag("work_dir", serveCmd.Flags().Lookup("work-dir"))
	mustBindPFlag("rtmp.url", serveCmd.Flags().Lookup("rtmp-url"))
	mustBindPFlag("engine.timeline_v2", serveCmd.Flags().Lookup("timeline"))
}

func runServe(cmd *cobra.Command, args []string) error {
	// Wrap the default handler so the dashboard can stream logs. This has
	// to happen before any component caches a logger.
	logsService := logs.New()
	slog.SetDefault(slog.New(logsService.WrapHandler(slog.Default().Handler())))
	logger := slog.Default()

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	tools, err := ffmpeg.Resolve(cmd.Context(), cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, cfg.FFmpeg.DownloaderPath)
	if err != nil {
		return fmt.Errorf("resolving audio toolchain: %w", err)
	}
	prober := ffmpeg.NewProber(tools.FFprobe)

	st := state.New(logger)

	catalogStore, err := catalog.NewStore(cfg.Catalog.Path, logger)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	st.CatalogReloaded(catalogStore.Len())

	trackCache, err := cache.New(cfg.WorkDir, tools, prober, logger)
	if err != nil {
		return fmt.Errorf("initializing track cache: %w", err)
	}

	renderer := render.New(tools.FFmpeg, logger)

	outboundCfg := httpclient.DefaultConfig()
	outboundCfg.Timeout = cfg.TTS.Timeout
	outboundCfg.UserAgent = version.UserAgent()
	outboundCfg.Logger = logger
	outbound := httpclient.New(outboundCfg)

	speech := tts.New(cfg.TTS.BaseURL, outbound, logger)
	writer := commentary.New(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, outbound.StandardClient(), logger)

	bld, err := builder.New(builder.Config{
		WorkDir:           cfg.WorkDir,
		StationName:       cfg.Station.Name,
		LinerDir:          cfg.Station.LinerDir,
		CommentaryCadence: cfg.Station.CommentaryCadence,
	}, builder.Deps{
		Source:  catalogStore,
		Fetcher: trackCache,
		Speech:  speech,
		Writer:  writer,
		Shaper:  renderer,
		Prober:  prober,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("initializing builder: %w", err)
	}

	q := queue.New()

	// One clock for the scheduler, engine and timeline snapshots:
	// seconds since process start.
	streamStart := time.Now()
	now := func() float64 { return time.Since(streamStart).Seconds() }

	var sched *scheduler.Scheduler
	if cfg.Engine.TimelineV2 {
		sched = scheduler.New(scheduler.Config{
			StationIDPath:   cfg.Station.IDWavPath,
			CarryOverOffset: cfg.Engine.CarryOverOffset,
		}, prober, q, now, logger)
	}

	snk := sink.New(sink.Config{
		WorkDir: cfg.WorkDir,
		RTMPURL: cfg.RTMP.URL,
		FFmpeg:  tools.FFmpeg,
	}, logger)

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	eng, err := engine.New(engine.Config{
		WorkDir:         cfg.WorkDir,
		TargetBufferSec: cfg.Buffer.TargetSec,
		MinBufferSec:    cfg.Buffer.MinSec,
		TimelineMode:    cfg.Engine.TimelineV2,
		MasterChunks:    cfg.Engine.AudioV2,
		WindowSec:       cfg.Engine.MasterWindowSec,
	}, engine.Deps{
		Builder:  bld,
		Queue:    q,
		Schedule: sched,
		Renderer: renderer,
		Sink:     snk,
		State:    st,
		Metrics:  m,
		Catalog:  catalogStore,
		Now:      now,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}

	// A typed nil *Scheduler must not reach the interface fields below.
	var clips janitor.ClipSource
	var timeline handlers.Timeline
	if sched != nil {
		clips = sched
		timeline = sched
	}

	jan, err := janitor.New(janitor.Config{
		WorkDir:  cfg.WorkDir,
		Schedule: cfg.Janitor.Schedule,
		MaxAge:   cfg.Janitor.MaxAge.Duration(),
		CacheDir: cfg.CacheDir(),
		MaxBytes: cfg.Janitor.MaxBytes.Bytes(),
	}, st, clips, logger)
	if err != nil {
		return fmt.Errorf("initializing janitor: %w", err)
	}

	mediaDirs := []string{cfg.WorkDir}
	if cfg.Station.LinerDir != "" {
		mediaDirs = append(mediaDirs, cfg.Station.LinerDir)
	}
	roots, err := storage.NewMediaRoots(mediaDirs...)
	if err != nil {
		return fmt.Errorf("initializing media roots: %w", err)
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	serverConfig.CORSOrigins = cfg.Server.CORSOrigins
	server := api.NewServer(serverConfig, logger, version.Version)

	healthHandler := handlers.NewHealthHandler()
	healthHandler.Register(server.API())

	statusHandler := handlers.NewStatusHandler(st, bld)
	statusHandler.Register(server.API())

	dashboardHandler := handlers.NewDashboardHandler(st, q)
	dashboardHandler.Register(server.API())

	queueHandler := handlers.NewQueueHandler(st, q, bld, m)
	queueHandler.Register(server.API())

	transportHandler := handlers.NewTransportHandler(eng)
	transportHandler.Register(server.API())

	timelineHandler := handlers.NewTimelineHandler(timeline)
	timelineHandler.Register(server.API())

	mediaHandler := handlers.NewMediaHandler(st, q, timeline, roots)
	mediaHandler.RegisterChiRoutes(server.Router())

	eventsHandler := handlers.NewEventsHandler(st)
	eventsHandler.Register(server.API())
	eventsHandler.RegisterChiRoutes(server.Router())

	wsHandler := handlers.NewWSHandler(st)
	wsHandler.RegisterChiRoutes(server.Router())

	logsHandler := handlers.NewLogsHandler(logsService)
	logsHandler.Register(server.API())
	logsHandler.RegisterChiRoutes(server.Router())

	if cfg.Metrics.Enabled {
		server.Router().Method(http.MethodGet, "/metrics", m.Handler())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if cfg.Catalog.Watch {
		err := catalogStore.Watch(ctx, cfg.Catalog.Debounce, func(count int, err error) {
			if err != nil {
				st.RecordError(fmt.Sprintf("catalog reload: %v", err))
				return
			}
			st.CatalogReloaded(count)
		})
		if err != nil {
			logger.Warn("catalog watch unavailable", slog.String("error", err.Error()))
		}
	}

	if cfg.MQTT.Enabled {
		publisher := mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Topic:       cfg.MQTT.Topic,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Retain:      cfg.MQTT.Retain,
			PublishWait: cfg.MQTT.PublishWait,
		}, st, logger)
		if err := publisher.Start(ctx); err != nil {
			return fmt.Errorf("starting mqtt publisher: %w", err)
		}
		defer publisher.Stop()
	}

	if err := jan.Start(); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}
	defer jan.Stop()

	// A failed start leaves the API up so the operator can fix the cause
	// and POST /control/start.
	defer eng.Stop()
	if err := eng.Start(ctx); err != nil {
		st.RecordError(fmt.Sprintf("engine start: %v", err))
		logger.Error("engine start failed, waiting for /control/start",
			slog.String("error", err.Error()))
	}

	logger.Info("starting airwav server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("rtmp_url", cfg.RTMP.URL),
		slog.Bool("timeline", cfg.Engine.TimelineV2),
		slog.String("version", version.Version))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		trackCache.Prewarm(gctx, catalogStore.Tracks())
		return nil
	})
	return g.Wait()
}
