// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/errors"
	"github.com/featurebasedb/bulkload/logger"
	"github.com/featurebasedb/bulkload/toml"
)

// store answers the index and bulk calls a load makes, keeping documents
// in memory.
type store struct {
	mu      sync.Mutex
	calls   []string
	indexes map[string]bool
	docs    map[string]map[string]string
	auth    string
}

func newStore(t *testing.T) (*store, *httptest.Server) {
	s := &store{indexes: map[string]bool{}, docs: map[string]map[string]string{}}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)
	if u, p, ok := r.BasicAuth(); ok {
		s.auth = u + ":" + p
	}
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "_bulk":
		var items []map[string]interface{}
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var action struct {
				Create struct {
					ID string `json:"_id"`
				} `json:"create"`
			}
			_ = json.Unmarshal(sc.Bytes(), &action)
			sc.Scan()
			var doc map[string]string
			_ = json.Unmarshal(sc.Bytes(), &doc)
			id := action.Create.ID
			item := map[string]interface{}{"_index": parts[0], "_id": id, "status": http.StatusCreated}
			if _, ok := s.docs[id]; ok {
				item["status"] = http.StatusConflict
				item["error"] = map[string]interface{}{"type": "version_conflict_engine_exception"}
			} else {
				s.docs[id] = doc
			}
			items = append(items, map[string]interface{}{"create": item})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
	case len(parts) == 1 && r.Method == http.MethodHead:
		if !s.indexes[parts[0]] {
			w.WriteHeader(http.StatusNotFound)
		}
	case len(parts) == 1 && r.Method == http.MethodDelete:
		delete(s.indexes, parts[0])
		s.docs = map[string]map[string]string{}
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	case len(parts) == 1 && r.Method == http.MethodPut:
		s.indexes[parts[0]] = true
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"status":404}`)
	}
}

func (s *store) numDocs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func writeCSV(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Crash ID,Borough\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,QUEENS\n", 4000000+i)
	}
	path := filepath.Join(t.TempDir(), "crashes.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0600))
	return path
}

func newTestCommand(srv *httptest.Server, paths ...string) (*LoadCommand, *bytes.Buffer) {
	stdout := &bytes.Buffer{}
	cmd := NewLoadCommand(nil, stdout, io.Discard)
	cmd.TargetURI = srv.URL
	cmd.Index = "crashes"
	cmd.BatchSize = 10
	cmd.Throttle = 2
	cmd.CSVPaths = paths
	cmd.Retries = 0
	return cmd, stdout
}

func TestNewLoadCommand_Defaults(t *testing.T) {
	cmd := NewLoadCommand(nil, io.Discard, io.Discard)
	cmd.Index = "crashes"
	cfg, err := cmd.Config()
	require.NoError(t, err)

	want := bulkload.DefaultConfig()
	want.Index = "crashes"
	want.Throttle = DefaultThrottle
	assert.Equal(t, want, cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadCommand_Run(t *testing.T) {
	s, srv := newStore(t)
	path := writeCSV(t, 25)

	cmd, stdout := newTestCommand(srv, path)
	cmd.ResetIndex = true
	cmd.Username, cmd.Password = "elastic", "changeme"
	require.NoError(t, cmd.Run(context.Background()))
	assert.Equal(t, bulkload.Tally{Total: 25, Created: 25}, cmd.Summary.Tally)
	assert.Equal(t, 25, s.numDocs())
	assert.Equal(t, "elastic:changeme", s.auth)
	assert.Equal(t, map[string]string{"crash_id": "4000000", "borough": "QUEENS"}, s.docs["1"])
	assert.Equal(t, []string{"HEAD /crashes", "PUT /crashes"}, s.calls[:2])
	assert.Contains(t, stdout.String(), "Total Records: 25\n")
	assert.Contains(t, stdout.String(), "Total Created: 25\n")
	assert.Contains(t, stdout.String(), "Total Failed: 0\n")
	assert.Contains(t, stdout.String(), "Records Per Second: 25\n")

	// the same ids again are all conflicts
	cmd, _ = newTestCommand(srv, path)
	require.NoError(t, cmd.Run(context.Background()))
	assert.Equal(t, bulkload.Tally{Total: 25, Failed: 25}, cmd.Summary.Tally)

	// unless the index is reset first
	cmd, _ = newTestCommand(srv, path)
	cmd.ResetIndex = true
	require.NoError(t, cmd.Run(context.Background()))
	assert.Equal(t, bulkload.Tally{Total: 25, Created: 25}, cmd.Summary.Tally)
	assert.Contains(t, s.calls, "DELETE /crashes")
}

func TestLoadCommand_RunStream(t *testing.T) {
	s, srv := newStore(t)
	cmd, stdout := newTestCommand(srv, writeCSV(t, 7), writeCSV(t, 5))
	cmd.Stream = true
	cmd.Output = OutputTable
	require.NoError(t, cmd.Run(context.Background()))
	assert.Equal(t, bulkload.Tally{Total: 12, Created: 12}, cmd.Summary.Tally)
	assert.Equal(t, 12, s.numDocs())
	assert.Contains(t, stdout.String(), "Total Records")
	assert.Contains(t, stdout.String(), "Measure")
}

func TestLoadCommand_RunSingleDocument(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	}))
	defer srv.Close()

	cmd, _ := newTestCommand(srv, writeCSV(t, 3))
	cmd.BatchSize = 1
	require.NoError(t, cmd.Run(context.Background()))
	assert.Equal(t, bulkload.Tally{Total: 3, Created: 3}, cmd.Summary.Tally)
	require.Len(t, paths, 3)
	var ids []string
	for _, p := range paths {
		assert.True(t, strings.HasPrefix(p, "/crashes/"), p)
		ids = append(ids, p[strings.LastIndex(p, "/")+1:])
	}
	assert.ElementsMatch(t, []string{"1", "2", "3"}, ids)
}

func TestLoadCommand_Validation(t *testing.T) {
	_, srv := newStore(t)
	path := writeCSV(t, 1)
	for name, mod := range map[string]func(cmd *LoadCommand){
		"NoIndex":      func(cmd *LoadCommand) { cmd.Index = "" },
		"BadIndex":     func(cmd *LoadCommand) { cmd.Index = "Crashes" },
		"NoPaths":      func(cmd *LoadCommand) { cmd.CSVPaths = nil },
		"ZeroBatch":    func(cmd *LoadCommand) { cmd.BatchSize = 0 },
		"ZeroThrottle": func(cmd *LoadCommand) { cmd.Throttle = 0 },
		"BadRefresh":   func(cmd *LoadCommand) { cmd.Refresh = "sometimes" },
		"BadOutput":    func(cmd *LoadCommand) { cmd.Output = "yaml" },
		"BadURI":       func(cmd *LoadCommand) { cmd.TargetURI = "ftp://localhost" },
		"NoUsername":   func(cmd *LoadCommand) { cmd.Password = "secret" },
		"BadCA":        func(cmd *LoadCommand) { cmd.TLSCACertificate = filepath.Join(t.TempDir(), "ca.pem") },
		"NegRetries":   func(cmd *LoadCommand) { cmd.Retries = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cmd, _ := newTestCommand(srv, path)
			mod(cmd)
			err := cmd.Run(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoadCommand_RunMissingFile(t *testing.T) {
	s, srv := newStore(t)
	cmd, _ := newTestCommand(srv, filepath.Join(t.TempDir(), "missing.csv"))
	cmd.ResetIndex = true
	err := cmd.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSource), "got %v", err)
	// files are read before the index is touched
	assert.Empty(t, s.calls)
}

func TestLoadCommand_RunStartDelay(t *testing.T) {
	s, srv := newStore(t)
	cmd, _ := newTestCommand(srv, writeCSV(t, 3))
	cmd.StartDelay = toml.Duration(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := cmd.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, s.numDocs())
}

func TestLoadCommand_LogPath(t *testing.T) {
	_, srv := newStore(t)
	cmd, _ := newTestCommand(srv, writeCSV(t, 3))
	cmd.LogPath = filepath.Join(t.TempDir(), "bulkload.log")
	cmd.Verbose = true
	require.NoError(t, cmd.Run(context.Background()))

	buf, err := os.ReadFile(cmd.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "loading into crashes")
	assert.Contains(t, string(buf), "DEBUG")
}

func TestServeMetrics(t *testing.T) {
	addr, stop, err := serveMetrics("127.0.0.1:0", logger.NopLogger)
	require.NoError(t, err)
	defer stop()

	bulkload.CounterBatches.WithLabelValues("ok").Add(0)
	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "bulkload_batches_total")

	resp, err = http.Post("http://"+addr.String()+"/metrics", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	_, _, err = serveMetrics(addr.String(), logger.NopLogger)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "got %v", err)
}

func TestGenerateConfigCommand_Run(t *testing.T) {
	buf := &bytes.Buffer{}
	cm := NewGenerateConfigCommand(nil, buf, io.Discard)
	require.NoError(t, cm.Run(context.Background()))
	for _, want := range []string{
		`target-uri = "https://127.0.0.1:9200/"`,
		`batch-size = 10000`,
		`throttle = 5`,
		`refresh = "false"`,
		`timeout = "5m0s"`,
		`shards = 3`,
	} {
		assert.Contains(t, buf.String(), want)
	}
	assert.NotContains(t, buf.String(), "Summary")
}
