package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/loopholelabs/logging"
	"github.com/loopholelabs/logging/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"audiopolicy/engine"
	"audiopolicy/middleware"
	"audiopolicy/policy"
	"audiopolicy/registry"
	"audiopolicy/server"
)

var (
	cmdServe = &cobra.Command{
		Use:   "serve",
		Short: "Start the audio policy service",
		Long:  ``,
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

const version = "1"

var serveAddr string
var serveAdvertise string
var serveMetrics string
var serveDebug bool

func init() {
	rootCmd.AddCommand(cmdServe)
	cmdServe.Flags().StringVarP(&serveAddr, "addr", "a", "", "Address to serve from (overrides server.listen)")
	cmdServe.Flags().StringVar(&serveAdvertise, "advertise", "", "Address announced in the registry (overrides server.advertise)")
	cmdServe.Flags().StringVarP(&serveMetrics, "metrics", "m", "", "Prom metrics address (overrides server.metrics)")
	cmdServe.Flags().BoolVarP(&serveDebug, "debug", "d", false, "Debug logging (trace)")
}

func runServe(_ *cobra.Command, _ []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		conf.Server.Listen = serveAddr
	}
	if serveAdvertise != "" {
		conf.Server.Advertise = serveAdvertise
	}
	if serveMetrics != "" {
		conf.Server.Metrics = serveMetrics
	}

	log := logging.New(logging.Zerolog, "audiopolicy.serve", os.Stderr)
	if serveDebug {
		log.SetLevel(types.TraceLevel)
	}

	eng := engine.New(conf.Engine, log)
	dispatcher := policy.NewDispatcher(eng, policy.WithDispatcherLogger(log))

	opts := []server.Option{
		server.WithLogger(log),
		server.WithInstance(registry.ServiceInstance{Interface: policy.Descriptor, Version: version}),
	}
	if conf.Registry != nil {
		etcd, err := registry.NewEtcdRegistry(conf.Registry.Endpoints, conf.Registry.DialTimeoutDuration())
		if err != nil {
			return err
		}
		defer etcd.Close()
		opts = append(opts, server.WithRegistry(etcd, conf.Registry.Service, conf.Registry.TTL))
	}

	svr := server.NewServer(dispatcher.Handler(), opts...)
	svr.Use(middleware.LoggingMiddleware(log, policy.CodeName))

	if conf.Server.Metrics != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		svr.Use(middleware.NewMetrics(reg, policy.CodeName).Middleware())

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(
			reg,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          reg,
			},
		))
		metricsServer := &http.Server{Addr: conf.Server.Metrics, Handler: mux}
		go func() {
			err := metricsServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", conf.Server.Metrics).Msg("metrics listener failed")
			}
		}()
		defer metricsServer.Close()
	}

	if conf.Server.RateLimit > 0 {
		burst := conf.Server.RateBurst
		if burst == 0 {
			burst = max(1, int(conf.Server.RateLimit))
		}
		svr.Use(middleware.RateLimitMiddleware(conf.Server.RateLimit, burst))
	}
	if d := conf.Server.RequestTimeoutDuration(); d > 0 {
		svr.Use(middleware.TimeOutMiddleware(d))
	}

	l, err := net.Listen("tcp", conf.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", conf.Server.Listen, err)
	}
	advertise := conf.Server.Advertise
	if advertise == "" {
		advertise = l.Addr().String()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- svr.ServeListener(l, advertise)
	}()

	log.Info().
		Str("listen", l.Addr().String()).
		Str("advertise", advertise).
		Str("interface", policy.Descriptor).
		Msg("audio policy service ready")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		return err
	}

	return svr.Shutdown(conf.Server.ShutdownTimeoutDuration())
}
