// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package ctl contains the bulkload subcommands.
package ctl

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/csv"
	"github.com/featurebasedb/bulkload/elastic"
	"github.com/featurebasedb/bulkload/errors"
	"github.com/featurebasedb/bulkload/logger"
	"github.com/featurebasedb/bulkload/toml"
)

// LoadCommand loads CSV files into an index.
type LoadCommand struct { // nolint: maligned
	// Store connection.
	TargetURI string `toml:"target-uri"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Index     string `toml:"index"`

	BatchSize int    `toml:"batch-size"`
	Throttle  int    `toml:"throttle"`
	Refresh   string `toml:"refresh"`

	// Files, http(s) URLs or s3:// objects to load, in order.
	CSVPaths     []string `toml:"csv-path"`
	S3Region     string   `toml:"s3-region"`
	Header       []string `toml:"header"`
	IgnoreHeader bool     `toml:"ignore-header"`
	// Stream batches rows as they are read rather than reading every file
	// first.
	Stream bool `toml:"stream"`

	TLSSkipVerify    bool          `toml:"tls-skip-verify"`
	TLSCACertificate string        `toml:"tls-ca-certificate"`
	ConnectTimeout   toml.Duration `toml:"connect-timeout"`
	Timeout          toml.Duration `toml:"timeout"`
	Retries          int           `toml:"retries"`

	// ResetIndex drops and recreates the index with the settings below
	// before loading.
	ResetIndex      bool   `toml:"reset-index"`
	Shards          int    `toml:"shards"`
	Replicas        int    `toml:"replicas"`
	RefreshInterval string `toml:"refresh-interval"`

	// StartDelay is waited out before the load starts, after the files
	// have been read.
	StartDelay toml.Duration `toml:"start-delay"`

	Output      string `toml:"output"`
	MetricsAddr string `toml:"metrics-addr"`
	LogPath     string `toml:"log-path"`
	Verbose     bool   `toml:"verbose"`

	// Summary of the last successful run.
	Summary Summary `toml:"-"`

	// client of the current run.
	client *elastic.Client

	// Standard input/output
	*bulkload.CmdIO `toml:"-"`
}

// DefaultThrottle is the number of concurrent writes the load command
// uses when none is given.
const DefaultThrottle = 5

// NewLoadCommand returns a new instance of LoadCommand with defaults set.
func NewLoadCommand(stdin io.Reader, stdout, stderr io.Writer) *LoadCommand {
	cfg := bulkload.DefaultConfig()
	return &LoadCommand{
		TargetURI:       cfg.TargetURI,
		BatchSize:       cfg.BatchSize,
		Throttle:        DefaultThrottle,
		Refresh:         cfg.Refresh.String(),
		ConnectTimeout:  toml.Duration(time.Minute),
		Timeout:         toml.Duration(5 * time.Minute),
		Retries:         2,
		Shards:          3,
		Replicas:        1,
		RefreshInterval: "1s",
		Output:          OutputText,
		CmdIO:           bulkload.NewCmdIO(stdin, stdout, stderr),
	}
}

// Config returns the load configuration described by the command's
// options. It is not validated.
func (cmd *LoadCommand) Config() (bulkload.Config, error) {
	refresh, err := bulkload.ParseRefreshMode(cmd.Refresh)
	if err != nil {
		return bulkload.Config{}, err
	}
	cfg := bulkload.Config{
		TargetURI: cmd.TargetURI,
		Index:     cmd.Index,
		BatchSize: cmd.BatchSize,
		Throttle:  cmd.Throttle,
		Refresh:   refresh,
	}
	if cmd.Username != "" || cmd.Password != "" {
		cfg.Credentials = &bulkload.Credentials{Username: cmd.Username, Password: cmd.Password}
	}
	return cfg, nil
}

// Run executes the load.
func (cmd *LoadCommand) Run(ctx context.Context) error {
	if err := cmd.setupLogger(); err != nil {
		return errors.Wrap(err, "setting up logger")
	}
	cfg, err := cmd.Config()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cmd.CSVPaths) == 0 {
		return errors.New(errors.ErrInvalidConfig, "at least one csv-path is required")
	}
	if cmd.Output != OutputText && cmd.Output != OutputTable {
		return errors.Newf(errors.ErrInvalidConfig, "invalid output %q, must be %s or %s", cmd.Output, OutputText, OutputTable)
	}

	runID := uuid.New().String()
	log := cmd.Logger().WithPrefix(fmt.Sprintf("[%s] ", runID))

	tlsConfig, err := elastic.NewTLSConfig(cmd.TLSSkipVerify, cmd.TLSCACertificate)
	if err != nil {
		return err
	}
	cmd.client, err = elastic.NewClient(cfg,
		elastic.OptClientTLSConfig(tlsConfig),
		elastic.OptClientConnectTimeout(time.Duration(cmd.ConnectTimeout)),
		elastic.OptClientSocketTimeout(time.Duration(cmd.Timeout)),
		elastic.OptClientRetries(cmd.Retries),
		elastic.OptClientRunID(runID),
		elastic.OptClientLogger(log),
	)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}

	if cmd.MetricsAddr != "" {
		_, stop, err := serveMetrics(cmd.MetricsAddr, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	src := csv.NewSource(cmd.CSVPaths...)
	src.Header = cmd.Header
	src.IgnoreHeader = cmd.IgnoreHeader
	src.S3Region = cmd.S3Region
	src.Log = log
	defer src.Close()

	var records []bulkload.Record
	if !cmd.Stream {
		records, err = bulkload.ReadAll(src)
		if err != nil {
			return err
		}
		log.Infof("read %d records from %d file(s)", len(records), len(cmd.CSVPaths))
	}

	if cmd.ResetIndex {
		err := cmd.client.ResetIndex(ctx, elastic.IndexSettings{
			Shards:          cmd.Shards,
			Replicas:        cmd.Replicas,
			RefreshInterval: cmd.RefreshInterval,
		})
		if err != nil {
			return errors.Wrap(err, "resetting index")
		}
	}

	if d := time.Duration(cmd.StartDelay); d > 0 {
		log.Infof("waiting %v before loading", d)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	engine, err := bulkload.NewEngine(elastic.NewWriter(cmd.client),
		append(cfg.EngineOptions(), bulkload.OptEngineLogger(log))...)
	if err != nil {
		return err
	}
	log.Infof("loading into %s with batch size %d, throttle %d, refresh %s",
		cfg.Index, cfg.BatchSize, cfg.Throttle, cfg.Refresh)

	start := time.Now()
	var tally bulkload.Tally
	if cmd.Stream {
		tally, err = engine.LoadSource(ctx, src)
	} else {
		tally, err = engine.Load(ctx, records)
	}
	if err != nil {
		return errors.Wrap(err, "loading")
	}
	cmd.Summary = Summary{Tally: tally, Duration: time.Since(start)}
	return cmd.Summary.Write(cmd.Stdout, cmd.Output)
}

// setupLogger sets up the logger based on the configuration.
func (cmd *LoadCommand) setupLogger() error {
	var f *logger.FileWriter
	var err error
	var logOutput io.Writer
	if cmd.LogPath == "" {
		logOutput = cmd.Stderr
	} else {
		f, err = logger.NewFileWriter(cmd.LogPath)
		if err != nil {
			return errors.Wrap(err, "opening file")
		}
		logOutput = f
	}
	if cmd.Verbose {
		cmd.SetLogger(logger.NewVerboseLogger(logOutput))
	} else {
		cmd.SetLogger(logger.NewStandardLogger(logOutput))
	}
	if f != nil {
		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
		go func() {
			// reopen log file on SIGHUP
			for range sighup {
				if err := f.Reopen(); err != nil {
					cmd.Logger().Infof("reopen: %s", err.Error())
				}
			}
		}()
	}
	return nil
}

// serveMetrics serves the prometheus registry on addr until the returned
// function is called. It returns the address actually listened on.
func serveMetrics(addr string, log logger.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Mark(errors.Wrapf(err, "listening on %s", addr), errors.ErrInvalidConfig)
	}
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("serving metrics: %v", err)
		}
	}()
	log.Infof("serving metrics on http://%s/metrics", ln.Addr())
	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
