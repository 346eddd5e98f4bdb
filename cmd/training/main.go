// Command training runs either half of the parameter-server system: a
// master holding the canonical weights, or a worker training against one.
// Dependencies are constructed by hand in main, no framework, the same
// shape as go/r3dr/main.go.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/muchq/tensorgraph/audit"
	"github.com/muchq/tensorgraph/go/mucks"
	"github.com/muchq/tensorgraph/master"
	"github.com/muchq/tensorgraph/metrics"
	"github.com/muchq/tensorgraph/modelplugin"
	"github.com/muchq/tensorgraph/monitor"
	"github.com/muchq/tensorgraph/ratelimit"
	"github.com/muchq/tensorgraph/worker"
)

// sideCarRateLimit bounds how often any one remote host may scrape
// /metrics or open /ws, independent of the master's own TCP connection
// limit (WithConnectionLimit), which only governs the training protocol.
var sideCarRateLimit = ratelimit.Config{MaxTokens: 5, RefillRate: 1, OpCost: 1}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "master":
		err = runMaster(os.Args[2:])
	case "worker":
		err = runWorker(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  training master <weights_path> <port> [--metrics-addr=host:port] [--audit-dsn=...] [--monitor-addr=host:port]")
	fmt.Fprintln(os.Stderr, "  training worker <host> <port> <model_plugin.so> [--threads=N] [--batches=N]")
}

func runMaster(args []string) error {
	cfg := MasterConfig{
		MetricsAddr: envOrDefault("METRICS_ADDR", ""),
		AuditDSN:    envOrDefault("AUDIT_DSN", ""),
		MonitorAddr: envOrDefault("MONITOR_ADDR", ""),
	}
	if err := readConfigFile(os.Getenv("CONFIG_FILE"), &cfg); err != nil {
		return err
	}

	fs := parseMasterFlags(args, &cfg)
	if fs.NArg() < 2 {
		usage()
		return fmt.Errorf("training master: missing weights_path/port")
	}
	cfg.WeightsPath = fs.Arg(0)
	cfg.Port = fs.Arg(1)

	var opts []master.Option
	if cfg.MetricsAddr != "" {
		recorder := metrics.New()
		go serveMetrics(cfg.MetricsAddr, recorder)
		opts = append(opts, master.WithMetrics(recorder))
	}
	if cfg.AuditDSN != "" {
		auditLog, err := audit.Open(cfg.AuditDSN)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer auditLog.Close()
		opts = append(opts, master.WithAudit(auditLog))
	}
	if cfg.MonitorAddr != "" {
		b := monitor.New()
		go serveMonitor(cfg.MonitorAddr, b)
		opts = append(opts, master.WithMonitor(b))
	}

	m, err := master.New(cfg.WeightsPath, opts...)
	if err != nil {
		return fmt.Errorf("constructing master: %w", err)
	}

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listening on :%s: %w", cfg.Port, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Printf("shutting down, persisting weights to %s", cfg.WeightsPath)
		if err := m.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("master listening on :%s", cfg.Port)
	return m.Serve(ln)
}

func runWorker(args []string) error {
	cfg := WorkerConfig{
		Threads:         envIntOrDefault("WORKER_THREADS", 0),
		BatchesPerCycle: envIntOrDefault("WORKER_BATCHES_PER_CYCLE", 1),
	}
	if err := readConfigFile(os.Getenv("CONFIG_FILE"), &cfg); err != nil {
		return err
	}

	fs := parseWorkerFlags(args, &cfg)
	if fs.NArg() < 3 {
		usage()
		return fmt.Errorf("training worker: missing host/port/model_plugin.so")
	}
	cfg.MasterAddr = net.JoinHostPort(fs.Arg(0), fs.Arg(1))
	cfg.PluginPath = fs.Arg(2)

	plugin, err := modelplugin.Load(cfg.PluginPath)
	if err != nil {
		return fmt.Errorf("loading model plugin: %w", err)
	}

	w := worker.New(worker.Config{
		MasterAddr:      cfg.MasterAddr,
		NumThreads:      cfg.Threads,
		BatchesPerCycle: cfg.BatchesPerCycle,
	}, plugin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker training against %s", cfg.MasterAddr)
	w.Run(ctx)
	return nil
}

func serveMetrics(addr string, r *metrics.Recorder) {
	m := mucks.NewMucks()
	m.HandleFunc("/metrics", func(w http.ResponseWriter, req *http.Request) {
		r.Handler().ServeHTTP(w, req)
	})
	m.Add(ratelimit.NewKeyLimiter(sideCarRateLimit))
	log.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, m); err != nil {
		log.Printf("metrics server: %v", err)
	}
}

func serveMonitor(addr string, b *monitor.Broadcaster) {
	m := mucks.NewMucks()
	m.HandleFunc("/ws", b.ServeWs)
	m.Add(ratelimit.NewKeyLimiter(sideCarRateLimit))
	log.Printf("monitor listening on %s", addr)
	if err := http.ListenAndServe(addr, m); err != nil {
		log.Printf("monitor server: %v", err)
	}
}
