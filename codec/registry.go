package codec

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// Registry is the table of known parser and serializer providers. The zero
// value is not usable; call NewRegistry.
type Registry struct {
	mu          sync.RWMutex
	parsers     map[Schema]ParserProvider
	serializers map[Version]SerializerProvider
	logger      *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers:     make(map[Schema]ParserProvider),
		serializers: make(map[Version]SerializerProvider),
		logger:      slog.Default(),
	}
}

// SetLogger replaces the logger used for provider selection messages.
func (r *Registry) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

func (r *Registry) log() *slog.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}

// RegisterParser adds p. A second provider for the same schema is rejected.
func (r *Registry) RegisterParser(p ParserProvider) error {
	s := p.Schema()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.parsers[s]; ok {
		return fmt.Errorf("parser for %s: %w", s, ErrDuplicateProvider)
	}
	r.parsers[s] = p
	return nil
}

// RegisterSerializer adds p. A second provider for the same version is
// rejected.
func (r *Registry) RegisterSerializer(p SerializerProvider) error {
	v := p.Version()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.serializers[v]; ok {
		return fmt.Errorf("serializer for version %s: %w", v, ErrDuplicateProvider)
	}
	r.serializers[v] = p
	return nil
}

// Parsers lists registered schemas sorted by namespace and root.
func (r *Registry) Parsers() []Schema {
	r.mu.RLock()
	out := make([]Schema, 0, len(r.parsers))
	for s := range r.parsers {
		out = append(out, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Schema) int {
		return cmp.Or(cmp.Compare(a.Namespace, b.Namespace), cmp.Compare(a.Root, b.Root))
	})
	return out
}

// Serializers lists registered versions, oldest first.
func (r *Registry) Serializers() []Version {
	r.mu.RLock()
	out := make([]Version, 0, len(r.serializers))
	for v := range r.serializers {
		out = append(out, v)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, Version.Compare)
	return out
}

// VersionOf returns the serializer version that writes schema s.
func (r *Registry) VersionOf(s Schema) (Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for v, p := range r.serializers {
		if p.Schema() == s {
			return v, true
		}
	}
	return Version{}, false
}

func (r *Registry) parserFor(s Schema) (ParserProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[s]
	return p, ok
}

// NewParser returns an idle parser over src. source names the input in
// error locations.
func (r *Registry) NewParser(source string, src io.Reader) *Parser {
	return &Parser{reg: r, source: source, src: src}
}

// CreateSerializer returns a serializer for the newest registered version.
func (r *Registry) CreateSerializer(opts ...SerializerOption) (*Serializer, error) {
	versions := r.Serializers()
	if len(versions) == 0 {
		return nil, &UnsupportedFormatError{Err: ErrNoSerializers}
	}
	return r.CreateSerializerFor(versions[len(versions)-1], opts...)
}

// CreateSerializerFor returns a serializer for exactly v.
func (r *Registry) CreateSerializerFor(v Version, opts ...SerializerOption) (*Serializer, error) {
	r.mu.RLock()
	p, ok := r.serializers[v]
	logger := r.logger
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedFormatError{Version: &v}
	}
	s := &Serializer{provider: p, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	logger.Debug("serializer selected", "version", v.String(), "compress", s.compress)
	return s, nil
}
