// Package plugin holds the process-wide extension registry. The registry is
// built once at startup and handed by reference to the rendering and
// UI-composition layers; it orders contributions but renders nothing itself.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"sort"
	"sync"

	"github.com/yuin/goldmark"
)

// ErrAlreadyRegistered is returned when a plugin or handler name is
// registered twice.
var ErrAlreadyRegistered = errors.New("plugin: already registered")

// Well-known extension points.
const (
	PointSidebar    = "sidebar"
	PointArticleTab = "article-tab"
)

// Plugin describes one extension: what it contributes to markdown rendering,
// HTML sanitization and the surrounding UI.
type Plugin struct {
	// Name uniquely identifies the plugin.
	Name string
	// MarkdownExtensions are passed to the markdown renderer.
	MarkdownExtensions []goldmark.Extender
	// HTMLWhitelist lists additional tags the sanitizer should allow.
	HTMLWhitelist []string
	// HTMLAttributes maps tags to additional allowed attributes.
	HTMLAttributes map[string][]string
	// SettingsPanel names a settings form template, if any.
	SettingsPanel string
}

// Handler is a named, prioritized contribution to an extension point. Lower
// priorities run first. The registry only orders handlers; what Render's
// output means is up to the consuming layer.
type Handler struct {
	Name     string
	Priority float64
	Render   func(ctx context.Context, articleID int64) (template.HTML, error)
}

// Registry maps extension-point names to ordered handler lists and collects
// the plugins' renderer inputs. Registration happens once at startup; reads
// afterwards are concurrent.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]*Plugin
	order    []string
	handlers map[string][]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins:  make(map[string]*Plugin),
		handlers: make(map[string][]Handler),
	}
}

// Register adds a plugin. Registering the same name twice fails with
// ErrAlreadyRegistered.
func (r *Registry) Register(p *Plugin) error {
	if p.Name == "" {
		return errors.New("plugin: registration requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[p.Name]; ok {
		return fmt.Errorf("%w: plugin %q", ErrAlreadyRegistered, p.Name)
	}
	r.plugins[p.Name] = p
	r.order = append(r.order, p.Name)
	return nil
}

// AddHandler registers a handler at an extension point with an explicit
// priority. Duplicate handler names within a point fail with
// ErrAlreadyRegistered.
func (r *Registry) AddHandler(point string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(point, h)
}

// AddHandlerFirst registers a handler ahead of everything currently at the
// point by offsetting from the minimum priority.
func (r *Registry) AddHandlerFirst(point string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[point]
	if len(hs) == 0 {
		h.Priority = 0
	} else {
		h.Priority = hs[0].Priority - 10
	}
	return r.insert(point, h)
}

// AddHandlerLast registers a handler behind everything currently at the
// point by offsetting from the maximum priority.
func (r *Registry) AddHandlerLast(point string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[point]
	if len(hs) == 0 {
		h.Priority = 0
	} else {
		h.Priority = hs[len(hs)-1].Priority + 10
	}
	return r.insert(point, h)
}

// AddHandlerBefore places a handler immediately before a named neighbor by
// bisecting the neighbor's priority with its predecessor's.
func (r *Registry) AddHandlerBefore(point, neighbor string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[point]
	i := indexOf(hs, neighbor)
	if i < 0 {
		return fmt.Errorf("plugin: no handler %q at point %q", neighbor, point)
	}
	if i == 0 {
		h.Priority = hs[0].Priority - 10
	} else {
		h.Priority = (hs[i-1].Priority + hs[i].Priority) / 2
	}
	return r.insert(point, h)
}

// AddHandlerAfter places a handler immediately after a named neighbor by
// bisecting the neighbor's priority with its successor's.
func (r *Registry) AddHandlerAfter(point, neighbor string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[point]
	i := indexOf(hs, neighbor)
	if i < 0 {
		return fmt.Errorf("plugin: no handler %q at point %q", neighbor, point)
	}
	if i == len(hs)-1 {
		h.Priority = hs[i].Priority + 10
	} else {
		h.Priority = (hs[i].Priority + hs[i+1].Priority) / 2
	}
	return r.insert(point, h)
}

// Handlers returns the handlers registered at a point in priority order.
func (r *Registry) Handlers(point string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := r.handlers[point]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

// Plugins returns all registered plugins in registration order.
func (r *Registry) Plugins() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Plugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	return out
}

// MarkdownExtensions collects every plugin's markdown extensions in
// registration order.
func (r *Registry) MarkdownExtensions() []goldmark.Extender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var exts []goldmark.Extender
	for _, name := range r.order {
		exts = append(exts, r.plugins[name].MarkdownExtensions...)
	}
	return exts
}

// HTMLWhitelist collects every plugin's additional allowed tags.
func (r *Registry) HTMLWhitelist() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tags []string
	for _, name := range r.order {
		tags = append(tags, r.plugins[name].HTMLWhitelist...)
	}
	return tags
}

// HTMLAttributes collects every plugin's tag-to-attributes additions. Later
// registrations extend earlier ones.
func (r *Registry) HTMLAttributes() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attrs := make(map[string][]string)
	for _, name := range r.order {
		for tag, list := range r.plugins[name].HTMLAttributes {
			attrs[tag] = append(attrs[tag], list...)
		}
	}
	return attrs
}

// SettingsPanels lists the settings form templates of all plugins that
// declare one, in registration order.
func (r *Registry) SettingsPanels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var panels []string
	for _, name := range r.order {
		if p := r.plugins[name]; p.SettingsPanel != "" {
			panels = append(panels, p.SettingsPanel)
		}
	}
	return panels
}

// insert assumes the write lock is held.
func (r *Registry) insert(point string, h Handler) error {
	if h.Name == "" {
		return errors.New("plugin: handler registration requires a name")
	}
	hs := r.handlers[point]
	if indexOf(hs, h.Name) >= 0 {
		return fmt.Errorf("%w: handler %q at point %q", ErrAlreadyRegistered, h.Name, point)
	}
	hs = append(hs, h)
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].Priority < hs[j].Priority })
	r.handlers[point] = hs
	return nil
}

func indexOf(hs []Handler, name string) int {
	for i, h := range hs {
		if h.Name == name {
			return i
		}
	}
	return -1
}
