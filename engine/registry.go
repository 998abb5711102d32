package engine

import (
	"sort"
	"strings"

	"github.com/Mikkicon/bellflow/models"
	"github.com/Mikkicon/bellflow/platform"
)

// Registry routes a request to an engine: an explicit engine name wins,
// then the platform's default engine, then the fallback.
type Registry struct {
	platforms *platform.Registry
	fallback  string
	engines   map[string]Engine
}

// NewRegistry creates a Registry with the given engines.
func NewRegistry(platforms *platform.Registry, fallback string, engines ...Engine) *Registry {
	r := &Registry{
		platforms: platforms,
		fallback:  fallback,
		engines:   make(map[string]Engine, len(engines)),
	}
	for _, e := range engines {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an engine under its name.
func (r *Registry) Register(e Engine) {
	r.engines[e.Name()] = e
}

// Get returns the engine with the given name.
func (r *Registry) Get(name string) (Engine, bool) {
	e, ok := r.engines[strings.ToLower(strings.TrimSpace(name))]
	return e, ok
}

// Names lists registered engines, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the platform and engine for a request.
func (r *Registry) Resolve(engineName, platformName, rawURL string) (Engine, *platform.Definition, error) {
	def, err := resolvePlatform(r.platforms, &models.ScrapeRequest{Platform: platformName, URL: rawURL})
	if err != nil {
		return nil, nil, err
	}

	name := engineName
	if name == "" {
		name = def.DefaultEngine
	}
	if _, ok := r.Get(name); !ok && engineName == "" {
		name = r.fallback
	}
	eng, ok := r.Get(name)
	if !ok {
		return nil, nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			"unknown or unavailable engine: "+name+" (available: "+strings.Join(r.Names(), ", ")+")", nil)
	}
	if eng.Name() == BrightDataEngineName && !def.HasProvider() {
		return nil, nil, models.NewScrapeError(models.ErrCodeUnsupportedPlatform,
			"platform "+def.Name+" is not supported by the brightdata engine", nil)
	}
	return eng, def, nil
}
