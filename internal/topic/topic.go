// Package topic provides the lesson-topic catalogue that feeds dynamic voice
// command synthesis.
//
// Topics are defined in a YAML file ([LoadFromReader]) and held in a [Store]
// that is replaced wholesale on reload, so readers always observe either the
// previous complete list or the new one, never a partial update. A polling
// [Watcher] reloads the file when it changes and notifies the application so
// catalogs can be rebuilt.
package topic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Topic is one navigable lesson topic.
type Topic struct {
	// Title is the human-readable topic name spoken by users (e.g., "Algebra").
	Title string `yaml:"title"`

	// Slug is the URL-safe identifier used to build the navigation route
	// (e.g., "algebra" → "/student/lessons/algebra").
	Slug string `yaml:"slug"`
}

// Provider supplies the current topic list. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Topics returns the current complete topic list. Callers must not
	// mutate the returned slice.
	Topics() []Topic
}

// Store is an in-memory [Provider] whose contents are swapped atomically by
// [Store.Replace]. The zero value is an empty, ready-to-use store.
type Store struct {
	mu     sync.RWMutex
	topics []Topic
}

// Compile-time interface check.
var _ Provider = (*Store)(nil)

// NewStore returns a Store pre-populated with topics.
func NewStore(topics []Topic) *Store {
	s := &Store{}
	s.Replace(topics)
	return s
}

// Topics implements [Provider].
func (s *Store) Topics() []Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topics
}

// Replace swaps the full topic list. The input is copied so later caller
// mutations cannot leak into readers.
func (s *Store) Replace(topics []Topic) {
	cp := make([]Topic, len(topics))
	copy(cp, topics)
	s.mu.Lock()
	s.topics = cp
	s.mu.Unlock()
}

// topicsFile is the top-level structure of the topics YAML file.
//
// Example:
//
//	topics:
//	  - title: "Algebra"
//	    slug: "algebra"
//	  - title: "World History"
//	    slug: "world-history"
type topicsFile struct {
	Topics []Topic `yaml:"topics"`
}

// LoadFromReader parses the topics YAML from r and validates the result.
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader) ([]Topic, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("topic: read: %w", err)
	}
	return parse(data)
}

// parse decodes and validates the raw YAML bytes of a topics file.
func parse(data []byte) ([]Topic, error) {
	var tf topicsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("topic: decode yaml: %w", err)
	}
	if err := Validate(tf.Topics); err != nil {
		return nil, err
	}
	return tf.Topics, nil
}

// Validate checks that every topic has a title and a unique, well-formed slug.
// It returns a joined error listing all problems found.
func Validate(topics []Topic) error {
	var errs []error
	seen := make(map[string]int, len(topics))
	for i, t := range topics {
		if strings.TrimSpace(t.Title) == "" {
			errs = append(errs, fmt.Errorf("topics[%d]: title must not be empty", i))
		}
		if t.Slug == "" {
			errs = append(errs, fmt.Errorf("topics[%d] (%q): slug must not be empty", i, t.Title))
			continue
		}
		if t.Slug != strings.ToLower(t.Slug) || strings.ContainsAny(t.Slug, " /") {
			errs = append(errs, fmt.Errorf("topics[%d]: slug %q must be lowercase with no spaces or slashes", i, t.Slug))
		}
		if prev, dup := seen[t.Slug]; dup {
			errs = append(errs, fmt.Errorf("topics[%d]: slug %q duplicates topics[%d]", i, t.Slug, prev))
		}
		seen[t.Slug] = i
	}
	return errors.Join(errs...)
}
