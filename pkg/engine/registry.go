package engine

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Registry holds the installed command and ambient handlers per plugin
// namespace. It is append-only until sealed.
type Registry struct {
	mu      sync.RWMutex
	sealed  bool
	seq     int
	entries []*entry
	byName  map[string]*entry
	ambient []*ambientEntry
}

type entry struct {
	namespace string
	desc      Descriptor
	prefix    string
	words     int
	prefixRe  *regexp.Regexp
	pattern   *regexp.Regexp
	seq       int
}

type ambientEntry struct {
	namespace string
	handler   Ambient
}

// CommandInfo describes one registered command for listings.
type CommandInfo struct {
	Namespace string
	Name      string
	Prefix    string
	Pattern   string
	Require   Requirement
	Help      string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*entry)}
}

// Install registers every handler a plugin declares.
func (r *Registry) Install(p Plugin) error {
	if p == nil {
		return errors.New("plugin is required")
	}

	namespace := strings.TrimSpace(p.Name())
	for _, desc := range p.Commands() {
		if err := r.Register(namespace, desc); err != nil {
			return fmt.Errorf("install plugin %s: %w", namespace, err)
		}
	}

	if ambient, ok := p.(AmbientPlugin); ok {
		for _, handler := range ambient.Ambient() {
			if err := r.RegisterAmbient(namespace, handler); err != nil {
				return fmt.Errorf("install plugin %s: %w", namespace, err)
			}
		}
	}

	return nil
}

// Register adds one command descriptor to a namespace.
func (r *Registry) Register(namespace string, desc Descriptor) error {
	namespace = strings.TrimSpace(namespace)
	desc.Name = strings.TrimSpace(desc.Name)
	if err := validateNames(namespace, desc.Name); err != nil {
		return err
	}
	if desc.Run == nil {
		return fmt.Errorf("command %s.%s has no handler", namespace, desc.Name)
	}

	words := strings.Fields(strings.ToLower(desc.prefix()))
	if len(words) == 0 {
		return fmt.Errorf("command %s.%s has an empty prefix", namespace, desc.Name)
	}

	e := &entry{
		namespace: namespace,
		desc:      desc,
		prefix:    strings.Join(words, " "),
		words:     len(words),
		prefixRe:  compilePrefix(words),
	}

	if source := strings.TrimSpace(desc.Pattern); source != "" {
		pattern, err := compilePattern(source)
		if err != nil {
			return fmt.Errorf("command %s.%s: invalid pattern: %w", namespace, desc.Name, err)
		}
		e.pattern = pattern
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}

	for _, existing := range r.entries {
		if existing.namespace != namespace {
			continue
		}
		samePrefix := existing.prefix == e.prefix && strings.TrimSpace(existing.desc.Pattern) == strings.TrimSpace(desc.Pattern)
		if samePrefix || existing.desc.Name == desc.Name {
			return &DuplicateCommandError{
				Namespace: namespace,
				Name:      desc.Name,
				Prefix:    e.prefix,
				Pattern:   strings.TrimSpace(desc.Pattern),
			}
		}
	}

	r.seq++
	e.seq = r.seq
	r.entries = append(r.entries, e)
	r.byName[qualifiedName(namespace, desc.Name)] = e

	// Longest prefix wins; ties keep registration order.
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].words != r.entries[j].words {
			return r.entries[i].words > r.entries[j].words
		}
		return r.entries[i].seq < r.entries[j].seq
	})

	return nil
}

// RegisterAmbient adds a non-command handler to a namespace.
func (r *Registry) RegisterAmbient(namespace string, handler Ambient) error {
	namespace = strings.TrimSpace(namespace)
	handler.Name = strings.TrimSpace(handler.Name)
	if err := validateNames(namespace, handler.Name); err != nil {
		return err
	}
	if handler.Run == nil {
		return fmt.Errorf("ambient handler %s.%s has no handler", namespace, handler.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}

	for _, existing := range r.ambient {
		if existing.namespace == namespace && existing.handler.Name == handler.Name {
			return &DuplicateCommandError{Namespace: namespace, Name: handler.Name}
		}
	}

	r.ambient = append(r.ambient, &ambientEntry{namespace: namespace, handler: handler})
	return nil
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Commands lists registered commands in match order.
func (r *Registry) Commands() []CommandInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CommandInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, CommandInfo{
			Namespace: e.namespace,
			Name:      e.desc.Name,
			Prefix:    e.prefix,
			Pattern:   e.desc.Pattern,
			Require:   e.desc.Require,
			Help:      e.desc.Help,
		})
	}

	return out
}

// match resolves command text (marker already stripped) to a descriptor.
func (r *Registry) match(text string) (*entry, Args, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		loc := e.prefixRe.FindStringIndex(text)
		if loc == nil {
			continue
		}

		args, ok := e.matchArgs(strings.TrimSpace(text[loc[1]:]))
		if ok {
			return e, args, true
		}
	}

	return nil, Args{}, false
}

// lookup resolves a delegation target. Unqualified names resolve inside
// the caller's namespace.
func (r *Registry) lookup(namespace string, name string) (*entry, bool) {
	name = strings.TrimSpace(name)
	if !strings.Contains(name, ".") {
		name = qualifiedName(namespace, name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	return e, ok
}

func (r *Registry) ambientHandlers() []*ambientEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ambientEntry, len(r.ambient))
	copy(out, r.ambient)
	return out
}

func (r *Registry) prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.prefix)
	}

	return out
}

func (e *entry) key() string {
	return qualifiedName(e.namespace, e.desc.Name)
}

func validateNames(namespace string, name string) error {
	if namespace == "" {
		return errors.New("namespace is required")
	}
	if name == "" {
		return fmt.Errorf("handler name is required in namespace %s", namespace)
	}
	if strings.Contains(namespace, ".") || strings.Contains(name, ".") {
		return fmt.Errorf("names must not contain dots: %s.%s", namespace, name)
	}

	return nil
}

func qualifiedName(namespace string, name string) string {
	return namespace + "." + name
}
