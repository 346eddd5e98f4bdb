package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// MasterConfig controls the optional side-car components a master process
// wires in. Every field can come from an env var; CONFIG_FILE, if set,
// overrides the env vars with values from a yaml file.
type MasterConfig struct {
	WeightsPath string `yaml:"weights_path"`
	Port        string `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`
	AuditDSN    string `yaml:"audit_dsn"`
	MonitorAddr string `yaml:"monitor_addr"`
}

// WorkerConfig controls a worker process's thread pool and master target.
type WorkerConfig struct {
	MasterAddr      string `yaml:"master_addr"`
	PluginPath      string `yaml:"plugin_path"`
	Threads         int    `yaml:"threads"`
	BatchesPerCycle int    `yaml:"batches_per_cycle"`
}

// readConfigFile loads path (if non-empty and readable) into out. A
// missing CONFIG_FILE env var is not an error; callers fall back to
// flags/env vars entirely.
func readConfigFile(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, out); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("%s=%q is not an integer, ignoring", key, v)
		return def
	}
	return n
}

func parseMasterFlags(args []string, cfg *MasterConfig) *flag.FlagSet {
	fs := flag.NewFlagSet("training master", flag.ExitOnError)
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve /metrics on, empty disables")
	fs.StringVar(&cfg.AuditDSN, "audit-dsn", cfg.AuditDSN, "postgres DSN for the weight-version audit trail, empty disables")
	fs.StringVar(&cfg.MonitorAddr, "monitor-addr", cfg.MonitorAddr, "address to serve the /ws monitor feed on, empty disables")
	fs.Parse(args)
	return fs
}

func parseWorkerFlags(args []string, cfg *WorkerConfig) *flag.FlagSet {
	fs := flag.NewFlagSet("training worker", flag.ExitOnError)
	fs.IntVar(&cfg.Threads, "threads", cfg.Threads, "training goroutines to run, 0 means runtime.NumCPU()")
	fs.IntVar(&cfg.BatchesPerCycle, "batches", cfg.BatchesPerCycle, "batch_train calls per pull/push cycle")
	fs.Parse(args)
	return fs
}
