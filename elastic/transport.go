// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package elastic

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	opentracing "github.com/opentracing/opentracing-go"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/errors"
	"github.com/featurebasedb/bulkload/logger"
)

// ClientOptions control the properties of the connection to the store.
type ClientOptions struct {
	SocketTimeout    time.Duration
	ConnectTimeout   time.Duration
	PoolSizePerRoute int
	TotalPoolSize    int
	TLSConfig        *tls.Config

	retries      *int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	runID        string
	tracer       opentracing.Tracer
	logger       logger.Logger
}

func (co *ClientOptions) addOptions(options ...ClientOption) error {
	for _, option := range options {
		err := option(co)
		if err != nil {
			return err
		}
	}
	return nil
}

// ClientOption is used when creating a Client.
type ClientOption func(options *ClientOptions) error

// OptClientSocketTimeout is the maximum time a single request may take.
func OptClientSocketTimeout(timeout time.Duration) ClientOption {
	return func(options *ClientOptions) error {
		options.SocketTimeout = timeout
		return nil
	}
}

// OptClientConnectTimeout is the maximum time to connect.
func OptClientConnectTimeout(timeout time.Duration) ClientOption {
	return func(options *ClientOptions) error {
		options.ConnectTimeout = timeout
		return nil
	}
}

// OptClientPoolSizePerRoute is the maximum number of idle connections kept to the store.
func OptClientPoolSizePerRoute(size int) ClientOption {
	return func(options *ClientOptions) error {
		options.PoolSizePerRoute = size
		return nil
	}
}

// OptClientTotalPoolSize is the maximum number of idle connections.
func OptClientTotalPoolSize(size int) ClientOption {
	return func(options *ClientOptions) error {
		options.TotalPoolSize = size
		return nil
	}
}

// OptClientTLSConfig contains the TLS configuration.
func OptClientTLSConfig(config *tls.Config) ClientOption {
	return func(options *ClientOptions) error {
		options.TLSConfig = config
		return nil
	}
}

// OptClientRetries sets the number of times a request the store refused
// with 429 or 503 is sent again.
func OptClientRetries(retries int) ClientOption {
	return func(options *ClientOptions) error {
		if retries < 0 {
			return errors.New(errors.ErrInvalidConfig, "retries must be non-negative")
		}
		options.retries = &retries
		return nil
	}
}

// OptClientRetryWait bounds the backoff between retries.
func OptClientRetryWait(min, max time.Duration) ClientOption {
	return func(options *ClientOptions) error {
		if min > max {
			return errors.Newf(errors.ErrInvalidConfig, "minimum retry wait %v exceeds maximum %v", min, max)
		}
		options.retryWaitMin = min
		options.retryWaitMax = max
		return nil
	}
}

// OptClientRunID sets the id sent as X-Opaque-Id with every request. By
// default a random one is generated.
func OptClientRunID(id string) ClientOption {
	return func(options *ClientOptions) error {
		options.runID = id
		return nil
	}
}

// OptClientTracer sets the Open Tracing tracer
// See: https://opentracing.io
func OptClientTracer(tracer opentracing.Tracer) ClientOption {
	return func(options *ClientOptions) error {
		options.tracer = tracer
		return nil
	}
}

func OptClientLogger(l logger.Logger) ClientOption {
	return func(options *ClientOptions) error {
		options.logger = l
		return nil
	}
}

func (co *ClientOptions) withDefaults() (updated *ClientOptions) {
	// copy options so the original is not updated
	updated = &ClientOptions{}
	*updated = *co
	// impose defaults
	if updated.SocketTimeout <= 0 {
		updated.SocketTimeout = time.Second * 300
	}
	if updated.ConnectTimeout <= 0 {
		updated.ConnectTimeout = time.Second * 60
	}
	if updated.PoolSizePerRoute <= 0 {
		updated.PoolSizePerRoute = 50
	}
	if updated.TotalPoolSize <= 0 {
		updated.TotalPoolSize = 500
	}
	if updated.TLSConfig == nil {
		updated.TLSConfig = &tls.Config{}
	}
	if updated.retries == nil {
		retries := 2
		updated.retries = &retries
	}
	if updated.retryWaitMin <= 0 {
		updated.retryWaitMin = time.Second
	}
	if updated.retryWaitMax <= 0 {
		updated.retryWaitMax = 30 * time.Second
	}
	if updated.runID == "" {
		updated.runID = uuid.New().String()
	}
	if updated.tracer == nil {
		updated.tracer = opentracing.GlobalTracer()
	}
	if updated.logger == nil {
		updated.logger = logger.NopLogger
	}
	return
}

// NewTLSConfig returns the TLS configuration for the store connection. An
// empty caCertPath keeps the system roots.
func NewTLSConfig(skipVerify bool, caCertPath string) (*tls.Config, error) {
	config := &tls.Config{
		InsecureSkipVerify: skipVerify, // nolint: gosec
	}
	if caCertPath == "" {
		return config, nil
	}
	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "reading CA certificate"), errors.ErrInvalidConfig)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Newf(errors.ErrInvalidConfig, "no certificates found in %s", caCertPath)
	}
	config.RootCAs = pool
	return config, nil
}

// checkRetry retries only responses where the store refused the whole
// request, so nothing was written. Connection errors are never retried: a
// request that failed in flight may have been applied.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil || resp == nil {
		return false, nil
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true, nil
	}
	return false, nil
}

// headerTransport sets the headers identifying this loader on every
// request, including retries.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
	runID     string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("X-Opaque-Id", t.runID)
	return t.base.RoundTrip(req)
}

// UserAgent is the User-Agent sent with every request.
func UserAgent() string {
	return fmt.Sprintf("bulkload/%s", bulkload.ShortVersion())
}

func newHTTPClient(options *ClientOptions) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: options.ConnectTimeout,
		}).DialContext,
		TLSClientConfig:     options.TLSConfig,
		MaxIdleConnsPerHost: options.PoolSizePerRoute,
		MaxIdleConns:        options.TotalPoolSize,
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: &headerTransport{
			base:      transport,
			userAgent: UserAgent(),
			runID:     options.runID,
		},
		Timeout: options.SocketTimeout,
	}
	rc.RetryMax = *options.retries
	rc.RetryWaitMin = options.retryWaitMin
	rc.RetryWaitMax = options.retryWaitMax
	rc.CheckRetry = checkRetry
	rc.Backoff = retryablehttp.DefaultBackoff
	// hand the final response to the caller so the store's error body is
	// reported rather than a generic "giving up" error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{options.logger}
	return rc.StandardClient()
}

// leveledLogger adapts a logger.Logger to retryablehttp.LeveledLogger so
// per-request chatter stays at debug level.
type leveledLogger struct {
	l logger.Logger
}

func (ll leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	ll.l.Errorf("%s %v", msg, keysAndValues)
}

func (ll leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	ll.l.Warnf("%s %v", msg, keysAndValues)
}

func (ll leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	ll.l.Debugf("%s %v", msg, keysAndValues)
}

func (ll leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	ll.l.Debugf("%s %v", msg, keysAndValues)
}
