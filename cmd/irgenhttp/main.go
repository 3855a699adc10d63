package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"github.com/knadh/koanf/providers/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"

	yml "gopkg.in/yaml.v2"

	"github.com/hcitlab/irgen/generichttp"
	"github.com/hcitlab/irgen/generichttp/camera"
	"github.com/hcitlab/irgen/imgrec"
	"github.com/hcitlab/irgen/irmetrics"
	"github.com/hcitlab/irgen/logging"
	"github.com/hcitlab/irgen/openni"
	"github.com/hcitlab/irgen/openni/ir"
	"github.com/hcitlab/irgen/server/middleware/locker"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "irgen-http.yml"
)

func root() {
	str := `irgen-http exposes control of an OpenNI infrared generator over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	irgen-http <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `irgen-http is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

OutputMode is written WxH@FPS, e.g. 640x480@30.  Mock serves a simulated
generator, useful when no sensor is attached or the server was built without
the openni tag.

While the server runs, changes to Mirror and OutputMode in the config file are
applied to the generator without a restart.  Other keys need a restart.

If the generator does not start right away, the server retries with an
exponential backoff as configured under Retry before giving up.`
	fmt.Println(str)
}

func mustConfig() config {
	c, err := loadConfig(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return c
}

func mkconf() {
	c := mustConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := mustConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("irgen-http version %v\n", Version)
}

// startWithSpinner starts the generator, retrying per cfg, with a spinner on the terminal
func startWithSpinner(gen *ir.Generator, cfg retry, logger *zap.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime
	b.Reset()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " starting infrared generator",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopMessage:       "generating",
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		StopFailMessage:   "failed",
	})
	if err != nil {
		logger.Warn("no spinner", zap.Error(err))
		return gen.StartGeneratingRetry(b)
	}
	spinner.Start()
	err = gen.StartGeneratingRetry(b)
	if err != nil {
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	return nil
}

// pump drives frame production until ctx is done
type pump func(ctx context.Context) error

// openNode opens the configured node and returns it with its frame pump and
// a function releasing it
func openNode(cfg config) (openni.IRGenerator, pump, func() error, error) {
	if cfg.Mock {
		m := openni.NewMockIRGenerator()
		return m, m.Run, func() error { return nil }, nil
	}
	n, err := openni.OpenIRGenerator()
	if err != nil {
		return nil, nil, nil, err
	}
	p := func(ctx context.Context) error {
		for ctx.Err() == nil {
			if err := n.WaitAndUpdate(); err != nil {
				return err
			}
		}
		return ctx.Err()
	}
	return n, p, n.Close, nil
}

// apply sets the hot-reloadable parts of cfg on the generator
func apply(gen camera.LockableMapGenerator, cfg config, logger *zap.Logger) {
	mode, err := cfg.outputMode()
	if err != nil {
		logger.Error("bad output mode in config", zap.String("mode", cfg.OutputMode), zap.Error(err))
	} else if cur, _ := gen.GetOutputMode(); cur != mode {
		if err := gen.SetOutputMode(mode); err != nil {
			logger.Error("setting output mode", zap.Stringer("mode", mode), zap.Error(err))
		}
	}
	if gen.IsMirrored() != cfg.Mirror {
		if err := gen.SetMirroring(cfg.Mirror); err != nil {
			logger.Error("setting mirroring", zap.Bool("mirror", cfg.Mirror), zap.Error(err))
		}
	}
}

// watch re-applies the config file when it changes
func watch(gen camera.LockableMapGenerator, logger *zap.Logger) {
	f := file.Provider(ConfigFileName)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			logger.Warn("watching config", zap.Error(err))
			return
		}
		cfg, err := loadConfig(ConfigFileName)
		if err != nil {
			logger.Error("reloading config", zap.Error(err))
			return
		}
		logger.Info("config changed, applying mirror and output mode")
		apply(gen, cfg, logger)
	})
	if err != nil {
		logger.Debug("config file not watched", zap.String("file", ConfigFileName), zap.Error(err))
	}
}

func run() {
	cfg := mustConfig()
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()
	defer logger.Sync()
	session := uuid.New().String()
	logger = logger.With(zap.String("session", session))

	node, frames, release, err := openNode(cfg)
	if err != nil {
		logger.Fatal("opening infrared generator", zap.Error(err))
	}
	defer release()

	gen := ir.New(node, logging.Sink{L: logger.Named("ir")})
	reg := prometheus.NewRegistry()
	metrics, err := irmetrics.New(reg)
	if err != nil {
		logger.Fatal("registering metrics", zap.Error(err))
	}
	gen.SetObserver(metrics)
	if err = gen.RegisterCallbacks(); err != nil {
		logger.Fatal("registering callbacks", zap.Error(err))
	}
	defer gen.UnregisterCallbacks()

	apply(gen, cfg, logger)
	if mode, err := gen.GetOutputMode(); err == nil {
		metrics.SetOutputMode(mode)
	}
	if err = startWithSpinner(gen, cfg.Retry, logger); err != nil {
		var se *ir.StatusError
		if errors.As(err, &se) {
			logger.Fatal("starting infrared generator", zap.String("status", se.Aggregate().Error()), zap.Bool("stale", se.Stale()), zap.Error(err))
		}
		logger.Fatal("starting infrared generator", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		if err := frames(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("frame pump stopped", zap.Error(err))
		}
	}()
	// from here on the config watcher and the HTTP handlers share the generator
	sg := camera.NewSyncGenerator(gen)
	watch(sg, logger)

	args := cfg.Recorder
	rec := imgrec.New(args.Root, args.Prefix, args.Enabled)
	w := camera.NewHTTPCamera(sg, rec)
	w.Session = session
	w.Log = logger.Named("http")
	lock := locker.New(sg)
	locker.Inject(w, lock)

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	w.RT().Bind(mux)
	root.Mount(hndlrS, mux)

	srv := &http.Server{Addr: cfg.Addr, Handler: root}
	go func() {
		<-ctx.Done()
		shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdown)
	}()
	logger.Info("now listening for requests", zap.String("addr", cfg.Addr+hndlrS))
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", zap.Error(err))
	}
	if err = sg.StopGenerating(); err != nil {
		logger.Warn("stopping infrared generator", zap.Error(err))
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
