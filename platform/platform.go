// Package platform holds the per-platform scraping tables: candidate post
// selectors, the metric extraction strategy, and the remote provider's
// dataset id and field aliases. Adding a platform is a data change.
package platform

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

//go:embed platforms.yaml
var defaultTables []byte

// Extractor names a post extraction strategy.
type Extractor string

const (
	// NumericLines reads metrics from solitary integer lines in the post text.
	NumericLines Extractor = "numeric_lines"

	// AriaLabels reads metrics from the aria-labels of action buttons.
	AriaLabels Extractor = "aria_labels"
)

// Canonical post fields used as keys of Provider.Fields.
const (
	FieldText       = "text"
	FieldLink       = "link"
	FieldLikes      = "likes"
	FieldComments   = "comments"
	FieldReposts    = "reposts"
	FieldDatePosted = "date_posted"
	FieldViews      = "views"
)

// GenericFields is used for providers that declare no aliases.
var GenericFields = map[string][]string{
	FieldText:     {"text", "description"},
	FieldLink:     {"url", "link"},
	FieldLikes:    {"likes"},
	FieldComments: {"comments"},
	FieldReposts:  {"reposts", "shares"},
}

// Provider describes the remote scraping provider's view of a platform.
type Provider struct {
	DatasetID string              `yaml:"dataset_id"`
	Fields    map[string][]string `yaml:"fields"`
}

// Definition is the scraping table of one platform.
type Definition struct {
	Name          string    `yaml:"name"`
	Hosts         []string  `yaml:"hosts"`
	DefaultEngine string    `yaml:"default_engine"`
	Extractor     Extractor `yaml:"extractor"`
	Selectors     []string  `yaml:"selectors"`
	Provider      Provider  `yaml:"provider"`
}

// FieldAliases returns the provider aliases for a canonical field,
// falling back to GenericFields.
func (d *Definition) FieldAliases(field string) []string {
	if aliases, ok := d.Provider.Fields[field]; ok && len(aliases) > 0 {
		return aliases
	}
	if len(d.Provider.Fields) > 0 {
		return nil
	}
	return GenericFields[field]
}

// HasProvider reports whether the remote provider supports the platform.
func (d *Definition) HasProvider() bool {
	return d.Provider.DatasetID != ""
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("platform: definition without name")
	}
	switch d.Extractor {
	case "":
		d.Extractor = NumericLines
	case NumericLines, AriaLabels:
	default:
		return fmt.Errorf("platform %s: unknown extractor %q", d.Name, d.Extractor)
	}
	for _, sel := range d.Selectors {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("platform %s: invalid selector %q: %w", d.Name, sel, err)
		}
	}
	for i, h := range d.Hosts {
		d.Hosts[i] = strings.ToLower(strings.TrimPrefix(h, "www."))
	}
	return nil
}

type tableFile struct {
	Platforms []*Definition `yaml:"platforms"`
}

// Parse decodes and validates a YAML table.
func Parse(data []byte) ([]*Definition, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("platform: decode tables: %w", err)
	}
	for _, d := range f.Platforms {
		if err := d.validate(); err != nil {
			return nil, err
		}
	}
	return f.Platforms, nil
}

// Registry indexes definitions by name. It is read-only after construction.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry builds a registry. Later definitions replace earlier ones
// with the same name.
func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		r.defs[strings.ToLower(d.Name)] = d
	}
	return r
}

// Load returns the built-in tables, overlaid with the YAML file at path
// when path is non-empty.
func Load(path string) (*Registry, error) {
	defs, err := Parse(defaultTables)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("platform: read %s: %w", path, err)
		}
		extra, err := Parse(data)
		if err != nil {
			return nil, err
		}
		defs = append(defs, extra...)
	}
	return NewRegistry(defs...), nil
}

// Default returns the built-in tables.
func Default() *Registry {
	r, err := Load("")
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup finds a definition by name, case-insensitively.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	d, ok := r.defs[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// Detect finds the platform whose hosts match the URL's hostname,
// including subdomains.
func (r *Registry) Detect(rawURL string) (*Definition, bool) {
	host := hostname(rawURL)
	if host == "" {
		return nil, false
	}
	for _, name := range r.Names() {
		d := r.defs[name]
		for _, h := range d.Hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return d, true
			}
		}
	}
	return nil, false
}

// Names returns the registered platform names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
