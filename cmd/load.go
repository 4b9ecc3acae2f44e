// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/featurebasedb/bulkload/ctl"
)

var Loader *ctl.LoadCommand

// newLoadCommand runs the load subcommand.
func newLoadCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Loader = ctl.NewLoadCommand(stdin, stdout, stderr)
	loadCmd := &cobra.Command{
		Use:   "load [flags] [csv-path...]",
		Short: "Create one document per CSV row in an index.",
		Long: `Reads every row of the given CSV files (local paths, http(s) URLs or
s3://bucket/key objects), in order, and creates one document per row in
the index. The first line of each file is its header unless --header is
given. Column names become field names in lower case with every run of
other characters replaced by an underscore.

Document ids are the row's position in the whole input, counting from 1,
so loading the same files twice into the same index fails every
document the second time unless --reset-index is given.

Batches of --batch-size rows are sent through the bulk API with at most
--throttle requests in flight. A batch size of 1 creates each document
with its own request.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			Loader.CSVPaths = append(Loader.CSVPaths, args...)
			return Loader.Run(cmd.Context())
		},
	}

	flags := loadCmd.Flags()
	flags.StringVar(&Loader.TargetURI, "target-uri", Loader.TargetURI, "Base URL of the Elasticsearch cluster.")
	flags.StringVarP(&Loader.Username, "username", "u", "", "Basic auth username.")
	flags.StringVarP(&Loader.Password, "password", "p", "", "Basic auth password.")
	flags.StringVarP(&Loader.Index, "index", "i", "", "Index to create documents in.")
	flags.IntVarP(&Loader.BatchSize, "batch-size", "b", Loader.BatchSize, "Number of rows per bulk request.")
	flags.IntVarP(&Loader.Throttle, "throttle", "t", Loader.Throttle, "Maximum number of requests in flight.")
	flags.StringVar(&Loader.Refresh, "refresh", Loader.Refresh, "Refresh policy of each write: false, true or wait_for.")

	flags.StringSliceVar(&Loader.CSVPaths, "csv-path", nil, "CSV file, http(s) URL or s3:// object to load. May be repeated.")
	flags.StringVar(&Loader.S3Region, "s3-region", "", "AWS region of s3:// objects. Defaults to the environment's.")
	flags.StringSliceVar(&Loader.Header, "header", nil, "Column names to use instead of each file's first line.")
	flags.BoolVar(&Loader.IgnoreHeader, "ignore-header", false, "Skip the first line of each file when --header is given.")
	flags.BoolVar(&Loader.Stream, "stream", false, "Send rows as they are read instead of reading every file first.")

	flags.BoolVar(&Loader.TLSSkipVerify, "tls-skip-verify", false, "Skip verification of the server's certificate.")
	flags.StringVar(&Loader.TLSCACertificate, "tls-ca-certificate", "", "Path to a PEM encoded CA certificate to trust.")
	flags.DurationVar((*time.Duration)(&Loader.ConnectTimeout), "connect-timeout", time.Duration(Loader.ConnectTimeout), "Timeout for establishing a connection.")
	flags.DurationVar((*time.Duration)(&Loader.Timeout), "timeout", time.Duration(Loader.Timeout), "Timeout for a whole request.")
	flags.IntVar(&Loader.Retries, "retries", Loader.Retries, "Retries of a request the cluster answered with 429 or 503.")

	flags.BoolVar(&Loader.ResetIndex, "reset-index", false, "Delete and recreate the index before loading.")
	flags.IntVar(&Loader.Shards, "shards", Loader.Shards, "Number of shards of a reset index.")
	flags.IntVar(&Loader.Replicas, "replicas", Loader.Replicas, "Number of replicas of a reset index.")
	flags.StringVar(&Loader.RefreshInterval, "refresh-interval", Loader.RefreshInterval, "Refresh interval of a reset index.")

	flags.DurationVar((*time.Duration)(&Loader.StartDelay), "start-delay", 0, "Time to wait after reading the files before loading.")
	flags.StringVarP(&Loader.Output, "output", "o", Loader.Output, "Summary format: text or table.")
	flags.StringVar(&Loader.MetricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on during the load, e.g. :9090.")
	flags.StringVar(&Loader.LogPath, "log-path", "", "Log file to write to. Defaults to stderr.")
	flags.BoolVarP(&Loader.Verbose, "verbose", "v", false, "Enable verbose logging.")

	return loadCmd
}
