// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package csv reads records from CSV files, http(s) URLs and S3 objects.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/featurebasedb/bulkload"
	"github.com/featurebasedb/bulkload/errors"
	"github.com/featurebasedb/bulkload/logger"
)

// ErrNotFound is returned when a path does not exist, locally or in S3.
var ErrNotFound = errors.New(errors.ErrSource, "file or url does not exist")

// Row is one CSV record, keyed by normalized column name. It is written to
// the store as a JSON object.
type Row map[string]string

// Source reads rows from each of Paths in turn. The first line of every file
// is its header unless Header is set, in which case Header names the
// columns of every file and IgnoreHeader skips each file's first line.
type Source struct {
	Paths        []string
	Header       []string
	IgnoreHeader bool
	S3Region     string
	Log          logger.Logger

	// S3 and HTTP are built on first use when nil.
	S3   s3iface.S3API
	HTTP *http.Client

	next    int
	name    string
	file    io.ReadCloser
	reader  *csv.Reader
	columns []string
	extra   int
}

var _ bulkload.Source = (*Source)(nil)

func NewSource(paths ...string) *Source {
	return &Source{
		Paths: paths,
		Log:   logger.NopLogger,
	}
}

// Record returns the next row, or io.EOF after the last row of the last
// file. A row with fewer fields than the header is an error; fields beyond
// the header are dropped.
func (s *Source) Record() (bulkload.Record, error) {
	for {
		if s.reader == nil {
			if s.next >= len(s.Paths) {
				return nil, io.EOF
			}
			name := s.Paths[s.next]
			s.next++
			if err := s.openFile(name); err != nil {
				return nil, err
			}
		}
		fields, err := s.reader.Read()
		if err == io.EOF {
			s.closeFile()
			continue
		} else if err != nil {
			return nil, errors.Wrapf(errors.Mark(err, errors.ErrSource), "reading %s", s.name)
		}
		return s.row(fields)
	}
}

func (s *Source) row(fields []string) (Row, error) {
	if len(fields) < len(s.columns) {
		line, _ := s.reader.FieldPos(0)
		return nil, errors.Newf(errors.ErrSource, "%s line %d: %d fields, header has %d",
			s.name, line, len(fields), len(s.columns))
	}
	if len(fields) > len(s.columns) {
		if s.extra == 0 {
			s.Log.Warnf("'%s': ignoring additional column(s) not included in the header specification", s.name)
		}
		s.extra++
	}
	row := make(Row, len(s.columns))
	for i, col := range s.columns {
		row[col] = fields[i]
	}
	return row, nil
}

func (s *Source) openFile(name string) error {
	s.Log.Debugf("opening %s", name)
	f, err := s.openFileOrURL(name)
	if err != nil {
		return errors.Wrapf(errors.Mark(err, errors.ErrSource), "opening %s", name)
	}
	s.name = name
	s.file = f
	s.extra = 0
	s.reader = csv.NewReader(f)
	s.reader.FieldsPerRecord = -1
	s.reader.ReuseRecord = true

	header := s.Header
	if len(header) == 0 || s.IgnoreHeader {
		fileHeader, err := s.reader.Read()
		if err == io.EOF {
			// an empty file has no rows
			s.closeFile()
			return nil
		} else if err != nil {
			s.closeFile()
			return errors.Wrapf(errors.Mark(err, errors.ErrSource), "reading header from '%s'", name)
		}
		if len(header) == 0 {
			header = append([]string(nil), fileHeader...)
		}
	}
	s.columns, err = NormalizeHeader(header)
	if err != nil {
		s.closeFile()
		return errors.Wrapf(err, "processing header from '%s'", name)
	}
	return nil
}

func (s *Source) closeFile() {
	if s.extra > 0 {
		s.Log.Printf("Processing '%s': %d rows have more columns than header specification", s.name, s.extra)
		s.extra = 0
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = nil
	s.reader = nil
}

// Close closes the file being read, if any.
func (s *Source) Close() error {
	s.closeFile()
	s.next = len(s.Paths)
	return nil
}

func (s *Source) openFileOrURL(name string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(name, "s3://"):
		return s.openS3(name)
	case strings.HasPrefix(name, "http://"), strings.HasPrefix(name, "https://"):
		client := s.HTTP
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Get(name)
		if err != nil {
			return nil, errors.Wrap(err, "getting via http")
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, ErrNotFound
		}
		if resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, errors.Errorf("got status %d via http.Get", resp.StatusCode)
		}
		return resp.Body, nil
	default:
		f, err := os.Open(name)
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, errors.Wrap(err, "opening file")
		}
		return f, nil
	}
}

func (s *Source) openS3(name string) (io.ReadCloser, error) {
	u, err := url.Parse(name)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing S3 URL %v", name)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, errors.Errorf("S3 URL %v must name a bucket and a key", name)
	}
	if s.S3 == nil {
		config := aws.NewConfig()
		if s.S3Region != "" {
			config = config.WithRegion(s.S3Region)
		}
		sess, err := session.NewSession(config)
		if err != nil {
			return nil, errors.Wrap(err, "creating S3 session")
		}
		s.S3 = s3.New(sess)
	}
	result, err := s.S3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey:
				return nil, ErrNotFound
			}
		}
		return nil, errors.Wrapf(err, "fetching S3 object %v", name)
	}
	return result.Body, nil
}

// NormalizeHeader turns column names into document field names: lower
// case, with every run of characters other than letters and digits
// replaced by a single underscore. "Case Vehicle ID" becomes
// "case_vehicle_id". Blank names become column_N; duplicate names are an
// error.
func NormalizeHeader(header []string) ([]string, error) {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := normalize(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if j, ok := seen[name]; ok {
			return nil, errors.Newf(errors.ErrSource, "columns %d (%q) and %d (%q) both map to field %q",
				j+1, header[j], i+1, h, name)
		}
		seen[name] = i
		names[i] = name
	}
	return names, nil
}

func normalize(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		sep = true
	}
	return b.String()
}
