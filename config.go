// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload

import (
	"net/url"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/featurebasedb/bulkload/errors"
)

// DefaultTargetURI is the store address used when none is configured.
const DefaultTargetURI = "https://127.0.0.1:9200/"

// Credentials are HTTP basic auth credentials for the store.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Username, validation.Required),
	)
}

// Config describes one load. It is a plain value: build it once, call
// Validate, and pass it around by value. elastic.NewClient validates the
// Config it is given; the Engine only sees the options derived from it.
type Config struct {
	// TargetURI is the base URL of the store, e.g. https://127.0.0.1:9200/.
	TargetURI string

	// Credentials are optional.
	Credentials *Credentials

	// Index is the index (collection) documents are created in.
	Index string

	// BatchSize is the number of records per write. A batch size of 1
	// selects single-document writes.
	BatchSize int

	// Throttle is the maximum number of writes in flight.
	Throttle int

	Refresh RefreshMode
}

// DefaultConfig returns a Config with every default applied. Index is left
// empty and must be set.
func DefaultConfig() Config {
	return Config{
		TargetURI: DefaultTargetURI,
		BatchSize: DefaultBatchSize,
		Throttle:  DefaultThrottle,
		Refresh:   NoRefresh,
	}
}

// index names are lowercase, may not start with -, _ or +, and may not
// contain \ / * ? " < > | , # : or whitespace.
var indexNameRe = regexp.MustCompile(`^[^-_+A-Z\\/*?"<>|,#:\s][^A-Z\\/*?"<>|,#:\s]*$`)

// Validate returns an ErrInvalidConfig error describing every invalid
// field, or nil.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.TargetURI, validation.Required, validation.By(validateHTTPURL)),
		validation.Field(&c.Credentials),
		validation.Field(&c.Index,
			validation.Required,
			validation.Length(1, 255),
			validation.Match(indexNameRe).Error("must be a lowercase index name"),
			validation.NotIn(".", ".."),
		),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Throttle, validation.Required, validation.Min(1)),
		validation.Field(&c.Refresh, validation.In(NoRefresh, ImmediateRefresh, WaitForRefresh)),
	)
	if err != nil {
		return errors.Wrap(errors.Mark(err, errors.ErrInvalidConfig), "invalid configuration")
	}
	return nil
}

// EngineOptions returns the engine options derived from c.
func (c Config) EngineOptions() []EngineOption {
	return []EngineOption{
		OptEngineBatchSize(c.BatchSize),
		OptEngineThrottle(c.Throttle),
	}
}

// SingleDocument reports whether c selects one write per document.
func (c Config) SingleDocument() bool {
	return c.BatchSize == 1
}

func validateHTTPURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return errors.Wrap(err, "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("must be an http or https URL, got scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New(errors.ErrInvalidConfig, "must include a host")
	}
	return nil
}
