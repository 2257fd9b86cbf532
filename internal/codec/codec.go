// Package codec maps format tags to load and save capabilities.
//
// Codecs are external collaborators: each one turns an encoded buffer into a
// raster.Image or back. The registry is a fixed lookup table keyed by
// format.Tag; adding a format means adding one entry.
package codec

import (
	"sort"
	"sync"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
)

// Loader decodes a buffer of one format.
type Loader interface {
	// Load decodes buf. shrink is >= 1; loaders that cannot shrink on load
	// ignore it and the caller handles the reduction.
	Load(buf []byte, shrink int) (*raster.Image, error)
	// Probe reads the dimensions from the header without decoding pixels.
	Probe(buf []byte) (width, height int, err error)
}

// ShrinkLoader is implemented by loaders that can decode straight to a
// reduced resolution.
type ShrinkLoader interface {
	Loader
	SupportsShrink(factor int) bool
}

// Saver encodes a raster into one format.
type Saver interface {
	Save(img *raster.Image, params SaveParams) ([]byte, error)
	// Target returns the interpretation a raster of interp must be converted
	// to before Save, which is interp itself when it can be written as is.
	Target(interp raster.Interpretation) raster.Interpretation
	// Alpha reports whether the format can carry an alpha band.
	Alpha() bool
}

// KnobReporter is implemented by savers that leave some knobs unapplied in
// this build.
type KnobReporter interface {
	// Ignored names the knobs set in params that Save will not honour.
	Ignored(params SaveParams) []string
}

// Ignored asks s which knobs in params it drops. Savers without a
// KnobReporter honour everything they are given.
func Ignored(s Saver, params SaveParams) []string {
	if r, ok := s.(KnobReporter); ok {
		return r.Ignored(params)
	}
	return nil
}

// GreyAlphaWidener is implemented by savers that keep alpha but cannot store
// it next to a single grey band.
type GreyAlphaWidener interface {
	// GreyAlphaTarget returns the colour interpretation a grey raster with
	// alpha is widened to before Save.
	GreyAlphaTarget(interp raster.Interpretation) raster.Interpretation
}

// SaveParams are the format knobs a saver may honour. Values are validated by
// the caller.
type SaveParams struct {
	Quality     int
	Compression int
	Interlace   bool
	Lossless    bool
	Palette     bool
}

// Capability describes what the running build supports for one format.
type Capability struct {
	Format       format.Tag `json:"format"`
	Load         bool       `json:"load"`
	Save         bool       `json:"save"`
	ShrinkOnLoad bool       `json:"shrink_on_load"`
	Alpha        bool       `json:"alpha"`
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	loaders map[format.Tag]Loader
	savers  map[format.Tag]Saver
}

// Option registers a capability while a Registry is built.
type Option func(*Registry)

func WithLoader(tag format.Tag, l Loader) Option {
	return func(r *Registry) { r.loaders[tag] = l }
}

func WithSaver(tag format.Tag, s Saver) Option {
	return func(r *Registry) { r.savers[tag] = s }
}

// New builds a registry from options; later options win.
func New(opts ...Option) *Registry {
	r := &Registry{
		loaders: make(map[format.Tag]Loader),
		savers:  make(map[format.Tag]Saver),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry

	// builtins collects the codecs compiled into this build. Files guarded by
	// build tags append to it from init.
	builtins []Option
	// overrides are applied after builtins.
	overrides []Option
)

// Default returns the process-wide registry holding every codec compiled in.
func Default() *Registry {
	defaultOnce.Do(func() {
		opts := append(append([]Option(nil), builtins...), overrides...)
		defaultRegistry = New(opts...)
	})
	return defaultRegistry
}

func (r *Registry) CanLoad(tag format.Tag) bool {
	_, ok := r.loaders[tag]
	return ok
}

func (r *Registry) CanSave(tag format.Tag) bool {
	_, ok := r.savers[tag]
	return ok
}

// Loader returns the decoder for tag or a NotRegistered error.
func (r *Registry) Loader(tag format.Tag) (Loader, error) {
	l, ok := r.loaders[tag]
	if !ok {
		return nil, imgerr.New(imgerr.KindNotRegistered, "loader", "no %s loader in this build", tag)
	}
	return l, nil
}

// Saver returns the encoder for tag or a NotRegistered error.
func (r *Registry) Saver(tag format.Tag) (Saver, error) {
	s, ok := r.savers[tag]
	if !ok {
		return nil, imgerr.New(imgerr.KindNotRegistered, "saver", "no %s saver in this build", tag)
	}
	return s, nil
}

// Capabilities lists every format with at least one capability, ordered by tag.
func (r *Registry) Capabilities() []Capability {
	seen := make(map[format.Tag]*Capability)
	get := func(tag format.Tag) *Capability {
		c, ok := seen[tag]
		if !ok {
			c = &Capability{Format: tag}
			seen[tag] = c
		}
		return c
	}
	for tag, l := range r.loaders {
		c := get(tag)
		c.Load = true
		if sl, ok := l.(ShrinkLoader); ok {
			c.ShrinkOnLoad = sl.SupportsShrink(2)
		}
	}
	for tag, s := range r.savers {
		c := get(tag)
		c.Save = true
		c.Alpha = s.Alpha()
	}

	out := make([]Capability, 0, len(seen))
	for _, c := range seen {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Format < out[j].Format })
	return out
}
