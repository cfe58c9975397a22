package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Meander-Cloud/go-remote/arbiter"
	"github.com/Meander-Cloud/go-remote/cluster"
	"github.com/Meander-Cloud/go-remote/config"
	"github.com/Meander-Cloud/go-remote/deployment"
	"github.com/Meander-Cloud/go-remote/logging"
	"github.com/Meander-Cloud/go-remote/message"
	"github.com/Meander-Cloud/go-remote/metrics"
	"github.com/Meander-Cloud/go-remote/net/tcp"
	"github.com/Meander-Cloud/go-remote/net/ws"
	"github.com/Meander-Cloud/go-remote/remote"
	"github.com/Meander-Cloud/go-remote/txn"
)

const shutdownTimeout = time.Second * 5

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

// demoRepository deploys a stateless calculator and a stateful counter so a
// fresh node answers invocations out of the box.
func demoRepository(logPrefix string) (*deployment.Repository, error) {
	calc := deployment.NewView("Calc").
		Method("echo", []string{"string"}, func(_ context.Context, call *deployment.Call) (any, error) {
			return call.Args[0], nil
		}).
		Method("add", []string{"long", "long"}, func(_ context.Context, call *deployment.Call) (any, error) {
			a, err := toInt64(call.Args[0])
			if err != nil {
				return nil, err
			}
			b, err := toInt64(call.Args[1])
			if err != nil {
				return nil, err
			}
			return a + b, nil
		})

	var mutex sync.Mutex
	counts := make(map[string]int64)
	counter := deployment.NewView("Counter").
		Method("increment", nil, func(_ context.Context, call *deployment.Call) (any, error) {
			mutex.Lock()
			defer mutex.Unlock()
			key := string(call.SessionID)
			counts[key]++
			return counts[key], nil
		})

	r := deployment.NewRepository(logPrefix + "-Deployments")
	err := r.Deploy(
		message.ModuleIdentifier{ModuleName: "calc"},
		deployment.NewComponent("Calculator", false, calc),
	)
	if err != nil {
		return nil, err
	}
	err = r.Deploy(
		message.ModuleIdentifier{ModuleName: "counter"},
		deployment.NewComponent("Counter", true, counter),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func serveMetrics(c *config.Config) *http.Server {
	if c.MetricsAddress == "" {
		return nil
	}

	metrics.RegisterMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              c.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 3,
	}
	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Msgf("%s: metrics server exited, err=%s", c.LogPrefix, err.Error())
		}
	}()

	log.Info().Msgf("%s: metrics served on %s", c.LogPrefix, c.MetricsAddress)
	return server
}

// announceShutdown suspends every module and takes the local node out of
// its cluster, then waits for the resulting broadcasts to be written while
// connections are still open.
func announceShutdown(ctx context.Context, repository *deployment.Repository, registry *cluster.Registry, clusterName string, pool *arbiter.Pool) error {
	repository.Suspend()
	registry.Leave(clusterName)
	return pool.Flush(ctx)
}

func run(path string) error {
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	logging.ConfigureRuntime(c.LogLevel)

	pool := arbiter.NewPool(c)
	defer pool.Shutdown()

	memory := txn.NewMemory(c.LogPrefix + "-Txn")

	repository, err := demoRepository(c.LogPrefix)
	if err != nil {
		return err
	}

	registry := cluster.NewRegistry(c.LogPrefix+"-Cluster", c.NodeName)
	err = registry.Join(&c.Cluster)
	if err != nil {
		return err
	}

	endpoint, err := remote.NewEndpoint(&remote.Options{
		Config:           c,
		Pool:             pool,
		Resolver:         repository,
		Invoker:          repository,
		Manager:          memory,
		LocalRegistry:    memory,
		ImportedRegistry: memory,
		Deployments:      repository,
		Topology:         registry,
	})
	if err != nil {
		return err
	}
	defer endpoint.Close()

	metricsServer := serveMetrics(c)

	var tcpListener *tcp.Listener
	if c.ListenAddress != "" {
		tcpListener, err = tcp.NewListener(c, endpoint)
		if err != nil {
			return err
		}
	}

	var wsListener *ws.Listener
	if c.WebSocketAddress != "" {
		wsListener, err = ws.NewListener(c, endpoint)
		if err != nil {
			if tcpListener != nil {
				tcpListener.Shutdown()
			}
			return err
		}
	}

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigch // wait
	log.Info().Msgf("%s: received signal %s, exiting", c.LogPrefix, sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = announceShutdown(ctx, repository, registry, c.Cluster.Name, pool)
	if err != nil {
		log.Warn().Msgf("%s: broadcasts not flushed before shutdown, err=%s", c.LogPrefix, err.Error())
	}

	if tcpListener != nil {
		tcpListener.Shutdown()
	}
	if wsListener != nil {
		err = wsListener.Shutdown(ctx)
		if err != nil {
			log.Warn().Msgf("%s: websocket shutdown, err=%s", c.LogPrefix, err.Error())
		}
	}
	if metricsServer != nil {
		err = metricsServer.Shutdown(ctx)
		if err != nil {
			log.Warn().Msgf("%s: metrics shutdown, err=%s", c.LogPrefix, err.Error())
		}
	}

	return nil
}

func main() {
	path := flag.String("config", "remote.toml", "path to the TOML config file")
	initialize := flag.Bool("init", false, "write a config template to -config and exit")
	flag.Parse()

	if *initialize {
		_, err := os.Stat(*path)
		if err == nil {
			log.Error().Msgf("main: %s already exists", *path)
			os.Exit(1)
		}
		err = os.WriteFile(*path, []byte(config.Template), 0o644)
		if err != nil {
			log.Error().Msgf("main: write %s, err=%s", *path, err.Error())
			os.Exit(1)
		}
		log.Info().Msgf("main: wrote %s", *path)
		return
	}

	err := run(*path)
	if err != nil {
		log.Error().Msgf("main: %s", err.Error())
		os.Exit(1)
	}
}
