package runner

import (
	"sort"
	"strings"
)

// Registry stores built-in handlers keyed by name@entrypoint, plus aliases.
type Registry struct {
	handlers map[string]Handler
	aliases  map[string]string
}

// HandlerMetadata describes how a lookup was resolved.
type HandlerMetadata struct {
	Name       string
	EntryPoint string
	Canonical  string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		aliases:  make(map[string]string),
	}
}

func canonicalKey(name, entryPoint string) string {
	name = strings.TrimSpace(name)
	entryPoint = strings.TrimSpace(entryPoint)
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}
	return name + "@" + entryPoint
}

func parseKey(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	if idx := strings.LastIndex(raw, "@"); idx > 0 {
		return raw[:idx], raw[idx+1:]
	}
	return raw, ""
}

// Register binds handler to name@entryPoint. The bare name becomes an alias
// of the first entry point registered for it.
func (r *Registry) Register(name, entryPoint string, handler Handler, aliases ...string) {
	canonical := canonicalKey(name, entryPoint)
	r.handlers[canonical] = handler
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		r.aliases[alias] = canonical
	}
	if _, exists := r.aliases[name]; !exists {
		r.aliases[name] = canonical
	}
}

// Resolve finds the handler for "name", "name@entrypoint" or an alias.
func (r *Registry) Resolve(raw string) (Handler, HandlerMetadata, bool) {
	name, entryPoint := parseKey(raw)
	canonical := canonicalKey(name, entryPoint)
	if handler, ok := r.handlers[canonical]; ok {
		return handler, metadataFor(canonical), true
	}
	if alias, ok := r.aliases[raw]; ok {
		if handler, ok := r.handlers[alias]; ok {
			return handler, metadataFor(alias), true
		}
	}
	if entryPoint == "" {
		if alias, ok := r.aliases[name]; ok {
			if handler, ok := r.handlers[alias]; ok {
				return handler, metadataFor(alias), true
			}
		}
	}
	return nil, HandlerMetadata{}, false
}

// Names lists canonical keys in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for key := range r.handlers {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

func metadataFor(canonical string) HandlerMetadata {
	name, entryPoint := parseKey(canonical)
	return HandlerMetadata{Name: name, EntryPoint: entryPoint, Canonical: canonical}
}
