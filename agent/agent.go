package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Leantar/dirwatch/models"
	"github.com/Leantar/dirwatch/modules/logging"
	"github.com/Leantar/dirwatch/modules/watcher"
	"github.com/Leantar/fimproto/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Log     logging.Config `yaml:"log"`
	Watch   WatchConfig    `yaml:"watch"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Server  *ServerConfig  `yaml:"server"`
}

type WatchConfig struct {
	// Base resolves relative SubDirs and Directories. Without any of them
	// Base itself is watched.
	Base        string   `yaml:"base"`
	SubDirs     []string `yaml:"sub_dirs"`
	Directories []string `yaml:"directories"`
	Backend     string   `yaml:"backend"`
	Dispatch    string   `yaml:"dispatch"`
	Workers     int      `yaml:"workers"`
	QueueSize   int      `yaml:"queue_size"`
	// Fingerprint hashes created and changed regular files.
	Fingerprint bool `yaml:"fingerprint"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int64  `yaml:"port"`
	CertFile    string `yaml:"cert_file"`
	CertKeyFile string `yaml:"cert_key_file"`
	CaFile      string `yaml:"ca_file"`
}

type Agent struct {
	conf     Config
	conn     *grpc.ClientConn
	client   proto.FimClient
	registry *prometheus.Registry

	mu      sync.Mutex
	watcher *watcher.DirectoryWatcher
}

func New(config Config) *Agent {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Agent{
		conf:     config,
		registry: registry,
	}
}

// Connect dials the FIM server. Without a server section the agent only
// logs events.
func (a *Agent) Connect() error {
	if a.conf.Server == nil {
		log.Info().Msg("no server configured, events are only logged")
		return nil
	}

	creds, err := createGrpcCredentials(a.conf.Server.CertFile, a.conf.Server.CertKeyFile, a.conf.Server.CaFile)
	if err != nil {
		return fmt.Errorf("failed to create credentials: %w", err)
	}

	address := net.JoinHostPort(a.conf.Server.Host, strconv.FormatInt(a.conf.Server.Port, 10))

	a.conn, err = grpc.Dial(address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", address, err)
	}
	log.Info().Msgf("connected to %s", address)

	a.client = proto.NewFimClient(a.conn)

	return nil
}

// Run watches the configured directories until ctx is done or none of them
// is left.
func (a *Agent) Run(ctx context.Context) error {
	var extra []string
	var baseline baselineFunc
	if a.client != nil {
		info, err := a.client.GetStartupInfo(ctx, &proto.Empty{})
		if err != nil {
			return fmt.Errorf("failed to get startup info: %w", err)
		}
		extra = info.WatchedPaths
		baseline = a.selectBaseline(info.CreateBaseline, info.UpdateBaseline)
	}

	w, err := a.newWatcher(ctx, extra)
	if err != nil {
		return err
	}

	if baseline != nil {
		objs, err := collectFsObjects(w.Directories())
		if err != nil {
			return fmt.Errorf("failed to collect baseline: %w", err)
		}
		if err := baseline(ctx, objs); err != nil {
			return fmt.Errorf("failed to send baseline: %w", err)
		}
		log.Info().Int("objects", len(objs)).Msg("sent baseline")
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)

	g.Go(func() error {
		defer cancel()
		return w.Run(runCtx)
	})

	if a.conf.Metrics.Address != "" {
		srv := &http.Server{
			Addr:              a.conf.Metrics.Address,
			Handler:           a.metricsHandler(),
			ReadHeaderTimeout: shutdownTimeout,
		}

		g.Go(func() error {
			log.Info().Str("address", srv.Addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *Agent) Stop() error {
	log.Info().Msg("stopping agent")

	a.mu.Lock()
	w := a.watcher
	a.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	if a.conn != nil {
		errs = append(errs, a.conn.Close())
	}
	return errors.Join(errs...)
}

func (a *Agent) newWatcher(ctx context.Context, extra []string) (*watcher.DirectoryWatcher, error) {
	conf := a.conf.Watch
	options := watcher.Options{
		Backend:   watcher.Backend(conf.Backend),
		Dispatch:  watcher.DispatchMode(conf.Dispatch),
		Workers:   conf.Workers,
		QueueSize: conf.QueueSize,
		Metrics:   watcher.NewMetrics(a.registry),
	}

	var dirs []string
	dirs = append(dirs, conf.SubDirs...)
	dirs = append(dirs, conf.Directories...)
	dirs = append(dirs, extra...)

	var w *watcher.DirectoryWatcher
	var err error
	switch {
	case conf.Base != "":
		w, err = watcher.NewWithBase(a.handleEvent(ctx), conf.Base, dirs, options)
	case len(dirs) > 0:
		w, err = watcher.New(a.handleEvent(ctx), dirs, options)
	default:
		return nil, errors.New("no directories configured")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, dir := range w.Directories() {
		log.Info().Str("dir", dir).Msg("watching directory")
	}

	a.mu.Lock()
	a.watcher = w
	a.mu.Unlock()

	return w, nil
}

func (a *Agent) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return mux
}

func (a *Agent) handleEvent(ctx context.Context) watcher.Handler {
	return func(e watcher.PathEvent) {
		obj := models.FsObject{Path: e.Path()}
		if a.conf.Watch.Fingerprint {
			var err error
			obj, err = models.FromEvent(e)
			if err != nil {
				log.Warn().Caller().Err(err).Str("path", e.Path()).Msg("failed to create fs object")
				return
			}
		}

		log.Info().
			Str("kind", e.Kind.String()).
			Str("path", obj.Path).
			Str("hash", obj.Hash).
			Msg("file system event")

		if a.client == nil {
			return
		}

		evt := &proto.Event{
			Kind:     e.Kind.String(),
			IssuedAt: time.Now().Unix(),
			FsObject: toProto(obj),
		}
		if _, err := a.client.ReportFsEvent(ctx, evt); err != nil {
			log.Error().Caller().Err(err).Str("path", obj.Path).Msg("failed to report event")
		}
	}
}

func toProto(obj models.FsObject) *proto.FsObject {
	return &proto.FsObject{
		Path:     obj.Path,
		Hash:     obj.Hash,
		Created:  obj.Created,
		Modified: obj.Modified,
		Uid:      obj.Uid,
		Gid:      obj.Gid,
		Mode:     obj.Mode,
	}
}

func createGrpcCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	caFile, err := filepath.Abs(caPath)
	if err != nil {
		return nil, err
	}

	caBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}

	certFile, err := filepath.Abs(certPath)
	if err != nil {
		return nil, err
	}

	keyFile, err := filepath.Abs(keyPath)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	ok := pool.AppendCertsFromPEM(caBytes)
	if !ok {
		return nil, fmt.Errorf("failed to parse %s", caFile)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	return credentials.NewTLS(&tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
	}), nil
}
