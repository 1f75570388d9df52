package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"overlay-node/internal/bootstrap"
	"overlay-node/internal/console"
	"overlay-node/internal/discovery"
	"overlay-node/internal/dispatch"
	"overlay-node/internal/identity"
	"overlay-node/internal/netx"
	"overlay-node/internal/p2p"
	"overlay-node/internal/paths"
	"overlay-node/internal/storage/peersbolt"
	"overlay-node/internal/telemetry"
)

func main() {
	name := flag.String("name", "anon", "display name")
	bind := flag.String("bind", ":0", "bind address (e.g. :0 for random port)")
	advertise := flag.String("advertise", "", "endpoint given to peers, defaults to the listen address")
	bootstrapStr := flag.String("bootstrap", "", "comma-separated bootstrap endpoints host:port")
	dataDir := flag.String("data", paths.DefaultDataDir(), "directory for identity and contacts")
	debug := flag.Bool("debug", false, "verbose logging")
	metricsAddr := flag.String("metrics", "", "serve prometheus metrics on this address, e.g. 127.0.0.1:9100")
	k := flag.Int("k", 20, "bucket size and closest nodes count")
	maxAttempts := flag.Int("max-attempts", 4, "send attempts per overlay message")
	retryDeadline := flag.Duration("retry-deadline", 10*time.Second, "overall deadline of a retry chain")
	client := flag.Bool("client", false, "join as a client instead of a routing node")
	lan := flag.Bool("lan", true, "discover and answer peers on the local network")
	interactive := flag.Bool("console", true, "read commands from stdin")
	flag.Parse()

	if err := run(options{
		name:          *name,
		bind:          *bind,
		advertise:     netx.Endpoint(*advertise),
		bootstraps:    splitEndpoints(*bootstrapStr),
		dataDir:       *dataDir,
		debug:         *debug,
		metricsAddr:   *metricsAddr,
		k:             *k,
		maxAttempts:   *maxAttempts,
		retryDeadline: *retryDeadline,
		client:        *client,
		lan:           *lan,
		console:       *interactive,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "overlay-node: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	name          string
	bind          string
	advertise     netx.Endpoint
	bootstraps    []netx.Endpoint
	dataDir       string
	debug         bool
	metricsAddr   string
	k             int
	maxAttempts   int
	retryDeadline time.Duration
	client        bool
	lan           bool
	console       bool
}

func run(o options) (err error) {
	log, err := telemetry.NewLogger(o.debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	dir, err := paths.EnsureDir(o.dataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	keys, err := identity.LoadOrCreate(filepath.Join(dir, paths.IdentityFile))
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	store, err := peersbolt.Open(filepath.Join(dir, paths.ContactsFile))
	if err != nil {
		return fmt.Errorf("contacts: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	n, err := p2p.NewNode(p2p.NodeConfig{
		Name:          o.name,
		Keys:          keys,
		Network:       netx.NewTCPNetwork(5 * time.Second),
		BindAddr:      o.bind,
		AdvertiseAddr: o.advertise,
		NoAutoJoin:    true,
		Client:        o.client,
		K:             o.k,
		Logger:        log,
		Debug:         o.debug,
		Metrics:       telemetry.NewMetrics(reg),
		Store:         store,
		Dispatch: []dispatch.Option{
			dispatch.WithMaxAttempts(o.maxAttempts),
			dispatch.WithRetryDeadline(o.retryDeadline),
		},
	})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	if err := n.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return n.Stop()
	})

	lanCfg := discovery.DefaultLANConfig()
	if o.lan && !o.client {
		if err := discovery.StartLANResponder(ctx, lanCfg, n.ID().Hex(), n.ListenAddr, log.Named("lan")); err != nil {
			log.Warn("lan responder", zap.Error(err))
		}
	}

	if o.metricsAddr != "" {
		srv := &http.Server{
			Addr:              o.metricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", o.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if o.client {
			return joinAsClient(ctx, n, o.bootstraps, log)
		}
		sources := []bootstrap.PeerSource{
			bootstrap.StaticSource{Endpoints: o.bootstraps, Label: "flags"},
			bootstrap.StoreSource{Store: store, MaxFailures: 3, Limit: 8},
		}
		if o.lan {
			sources = append(sources, bootstrap.LANSource{Cfg: lanCfg, NodeID: n.ID().Hex()})
		}
		cfg := bootstrap.DefaultConfig()
		cfg.Logger = log.Named("bootstrap")
		tried, err := bootstrap.RunOnce(ctx, n, cfg, sources...)
		if err != nil {
			log.Warn("bootstrap", zap.Error(err))
		}
		log.Info("bootstrap round done", zap.Int("tried", len(tried)))
		return nil
	})

	if o.console {
		g.Go(func() error {
			err := console.New(n, console.NewStdPrinter(os.Stdout)).Run(ctx, os.Stdin, n.Events())
			stop()
			return err
		})
	}

	return g.Wait()
}

func joinAsClient(ctx context.Context, n *p2p.Node, eps []netx.Endpoint, log *zap.Logger) error {
	if len(eps) == 0 {
		return errors.New("client mode needs at least one -bootstrap endpoint")
	}
	for _, ep := range eps {
		if err := n.ConnectClient(ctx, ep); err != nil {
			log.Warn("client connect", zap.String("to", string(ep)), zap.Error(err))
		}
	}
	return nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func splitEndpoints(s string) []netx.Endpoint {
	var out []netx.Endpoint
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, netx.Endpoint(part))
		}
	}
	return out
}
