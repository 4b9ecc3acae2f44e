// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package cmd contains the bulkload subcommand definitions (1 per file).

Each command file has a new*Command function which returns a cobra.Command
wrapping the subcommand's ctl implementation, and a package level instance
of that implementation so that it can be inspected by tests.
*/
package cmd
