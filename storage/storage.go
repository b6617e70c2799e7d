// Package storage handles persistence of the source list.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"gopkg.in/yaml.v3"

	"insta-mirror/pkg/mirror"
)

// DefaultKey is the object name used in the bucket when none is given.
const DefaultKey = "data.yaml"

// record is the on-disk form of a source as read. Older lists store
// fractional timestamps, so the marker is decoded as a float.
type record struct {
	Name     string   `yaml:"name"`
	LastPost *float64 `yaml:"last_post"`
}

// encodedRecord is the on-disk form as written. Field order is the key order.
type encodedRecord struct {
	Name     string `yaml:"name"`
	LastPost *int64 `yaml:"last_post,omitempty"`
}

// Store reads and writes the source list from a local file or a Cloud Storage object.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	key       string
	loaded    []byte // Raw list from the last Load, reused by Save to keep its layout
}

// New creates a new storage handler. When localPath is set the bucket is ignored.
func New(client *storage.Client, bucket, key, localPath string, logger *slog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
		key:       key,
	}
}

// Load reads the source list. A missing or corrupt list is a ConfigError.
func (s *Store) Load(ctx context.Context) ([]mirror.Source, error) {
	s.logger.Info("Loading sources", "location", s.location())

	data, err := s.read(ctx)
	if err != nil {
		return nil, mirror.NewError(mirror.ConfigError, "", "read sources", err)
	}

	sources, err := Decode(data)
	if err != nil {
		return nil, mirror.NewError(mirror.ConfigError, "", "parse sources", err)
	}

	s.loaded = data
	s.logger.Info("Sources loaded", "count", len(sources))
	return sources, nil
}

// Save writes the full source list, replacing the previous one.
func (s *Store) Save(ctx context.Context, sources []mirror.Source) error {
	data, err := Update(s.loaded, sources)
	if err != nil {
		return mirror.NewError(mirror.ConfigError, "", "encode sources", err)
	}

	if err := s.write(ctx, data); err != nil {
		return mirror.NewError(mirror.ConfigError, "", "write sources", err)
	}

	s.logger.Info("Sources saved", "location", s.location(), "count", len(sources))
	return nil
}

func (s *Store) location() string {
	if s.localPath != "" {
		return s.localPath
	}
	return "gs://" + s.bucket + "/" + s.key
}

func (s *Store) read(ctx context.Context) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		data, err := os.ReadFile(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(s.key).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", s.key, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

func (s *Store) write(ctx context.Context, data []byte) error {
	// Local filesystem storage: write a sibling temp file and rename over the old list
	if s.localPath != "" {
		tmp, err := os.CreateTemp(filepath.Dir(s.localPath), ".sources-*.yaml")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		defer func() { _ = os.Remove(tmp.Name()) }()

		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close temp file: %w", err)
		}
		if err := os.Rename(tmp.Name(), s.localPath); err != nil {
			return fmt.Errorf("replace %s: %w", s.localPath, err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(s.key).NewWriter(ctx)
			w.ContentType = "application/yaml"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", s.key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

// Decode parses a YAML source list. Markers written as floats (fractional
// Unix timestamps) are truncated to whole seconds.
func Decode(data []byte) ([]mirror.Source, error) {
	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(records))
	sources := make([]mirror.Source, 0, len(records))
	for i, r := range records {
		if r.Name == "" {
			return nil, fmt.Errorf("entry %d: name is required", i+1)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("entry %d: duplicate source %q", i+1, r.Name)
		}
		seen[r.Name] = true

		src := mirror.Source{Name: r.Name}
		if r.LastPost != nil {
			if math.IsNaN(*r.LastPost) || *r.LastPost < math.MinInt64 || *r.LastPost >= math.MaxInt64 {
				return nil, fmt.Errorf("entry %d: invalid last_post", i+1)
			}
			ts := int64(*r.LastPost)
			src.LastPost = &ts
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// Encode renders the source list as YAML with name before last_post and
// last_post omitted for sources that have none.
func Encode(sources []mirror.Source) ([]byte, error) {
	out := make([]encodedRecord, len(sources))
	for i, s := range sources {
		out[i] = encodedRecord{Name: s.Name, LastPost: s.LastPost}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Update rewrites prev, a list previously read with Decode, so it carries the
// markers of sources. Records keep their key order and any extra keys; only
// last_post is replaced or appended. Sources missing from prev are appended as
// new records, and records are emitted in the order of sources. When prev is
// empty Update is Encode.
func Update(prev []byte, sources []mirror.Source) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(prev, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.SequenceNode {
		return Encode(sources)
	}
	seq := doc.Content[0]

	byName := make(map[string]*yaml.Node, len(seq.Content))
	for _, rec := range seq.Content {
		if rec.Kind != yaml.MappingNode {
			continue
		}
		if v := mappingValue(rec, "name"); v != nil {
			byName[v.Value] = rec
		}
	}

	content := make([]*yaml.Node, 0, len(sources))
	for _, src := range sources {
		rec, ok := byName[src.Name]
		if !ok {
			rec = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
				scalar("!!str", "name"), scalar("!!str", src.Name),
			}}
		}
		if src.LastPost != nil {
			value := scalar("!!int", strconv.FormatInt(*src.LastPost, 10))
			if v := mappingValue(rec, "last_post"); v != nil {
				*v = *value
			} else {
				rec.Content = append(rec.Content, scalar("!!str", "last_post"), value)
			}
		}
		content = append(content, rec)
	}
	seq.Content = content

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mappingValue returns the value node for key in a mapping node, or nil.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func scalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}
