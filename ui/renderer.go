package ui

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type update struct {
	w        *Wrapper
	partial  map[string]any
	onCommit func()
}

// Renderer mounts components and batches their updates.
//
// Outside of an act boundary SetState commits immediately. Inside Act or
// AsyncAct updates are queued and committed when the outermost boundary
// returns, each affected wrapper rendering once per flush.
type Renderer struct {
	registry *Registry
	logger   logrus.FieldLogger

	mu       sync.Mutex
	acting   int
	queue    []update
	deferred []func(ctx context.Context) error
}

// NewRenderer returns a renderer expanding nested components with registry.
func NewRenderer(registry *Registry, logger logrus.FieldLogger) *Renderer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Renderer{registry: registry, logger: logger}
}

// Registry returns the registry used for nested components.
func (r *Renderer) Registry() *Registry {
	return r.registry
}

// Mount creates and renders an instance of def.
func (r *Renderer) Mount(def *Definition, props map[string]any) (*Wrapper, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrUnknownComponent)
	}
	props = maps.Clone(props)
	if props == nil {
		props = make(map[string]any)
	}

	w := &Wrapper{
		renderer: r,
		def:      def,
		props:    props,
		state:    def.initialState(props),
	}
	if err := w.render(); err != nil {
		return nil, fmt.Errorf("failed to mount %s: %w", def.Name, err)
	}
	if def.Mounted != nil {
		def.Mounted(w)
	}
	r.logger.WithField("component", def.Name).Debug("mounted")
	return w, nil
}

// MountNamed mounts the definition registered under name.
func (r *Renderer) MountNamed(name string, props map[string]any) (*Wrapper, error) {
	def, ok := r.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}
	return r.Mount(def, props)
}

// Act runs fn and commits the updates it queued before returning. The act
// scope is left even when fn panics.
func (r *Renderer) Act(fn func() error) (err error) {
	r.enter()
	defer func() {
		if flushErr := r.leave(); err == nil {
			err = flushErr
		}
	}()
	return fn()
}

// AsyncAct runs fn, then keeps running deferred effects and committing
// updates until nothing is pending or ctx is done.
func (r *Renderer) AsyncAct(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	r.enter()
	defer func() {
		if flushErr := r.leave(); err == nil {
			err = flushErr
		}
	}()

	err = fn(ctx)
	for err == nil {
		task, ok := r.nextDeferred()
		if !ok {
			break
		}
		if err = ctx.Err(); err != nil {
			break
		}
		err = task(ctx)
	}
	return err
}

// Flush commits queued updates now.
func (r *Renderer) Flush() error {
	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()
	return r.commit(queue)
}

// Pending returns the number of queued updates and deferred effects.
func (r *Renderer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) + len(r.deferred)
}

func (r *Renderer) enter() {
	r.mu.Lock()
	r.acting++
	r.mu.Unlock()
}

func (r *Renderer) leave() error {
	r.mu.Lock()
	r.acting--
	outermost := r.acting == 0
	r.mu.Unlock()
	if !outermost {
		return nil
	}
	return r.Flush()
}

func (r *Renderer) isActing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acting > 0
}

func (r *Renderer) enqueue(u update) {
	r.mu.Lock()
	r.queue = append(r.queue, u)
	r.mu.Unlock()
}

func (r *Renderer) schedule(task func(ctx context.Context) error) {
	r.mu.Lock()
	r.deferred = append(r.deferred, task)
	r.mu.Unlock()
}

func (r *Renderer) nextDeferred() (func(ctx context.Context) error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.deferred) == 0 {
		return nil, false
	}
	task := r.deferred[0]
	r.deferred = r.deferred[1:]
	return task, true
}

// commit applies updates in order, renders each touched wrapper once and
// then runs the commit callbacks.
func (r *Renderer) commit(queue []update) error {
	if len(queue) == 0 {
		return nil
	}

	var touched []*Wrapper
	seen := make(map[*Wrapper]bool)
	for _, u := range queue {
		u.w.merge(u.partial)
		if !seen[u.w] {
			seen[u.w] = true
			touched = append(touched, u.w)
		}
	}

	var firstErr error
	for _, w := range touched {
		if err := w.render(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, u := range queue {
		if u.onCommit != nil {
			u.onCommit()
		}
	}
	return firstErr
}

// Wrapper is a mounted component instance.
type Wrapper struct {
	renderer *Renderer
	def      *Definition

	mu      sync.Mutex
	props   map[string]any
	state   map[string]any
	html    []byte
	renders int
	err     error
}

// Name returns the component's tag name.
func (w *Wrapper) Name() string { return w.def.Name }

// SetState merges partial into the state and re-renders. onCommit runs once
// the new state is rendered. Inside an act boundary the update is queued.
func (w *Wrapper) SetState(partial map[string]any, onCommit func()) {
	u := update{w: w, partial: partial, onCommit: onCommit}
	if w.renderer.isActing() {
		w.renderer.enqueue(u)
		return
	}
	if err := w.renderer.commit([]update{u}); err != nil {
		w.renderer.logger.WithField("component", w.def.Name).WithError(err).Warn("render after state update failed")
	}
}

// Defer schedules an effect for the next AsyncAct.
func (w *Wrapper) Defer(task func(ctx context.Context) error) {
	w.renderer.schedule(task)
}

// Props returns a copy of the props.
func (w *Wrapper) Props() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.props)
}

// State returns a copy of the current state.
func (w *Wrapper) State() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.state)
}

// HTML returns the last rendered output.
func (w *Wrapper) HTML() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.html)
}

// Renders returns how often the component rendered.
func (w *Wrapper) Renders() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.renders
}

// Err returns the last render error.
func (w *Wrapper) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Text returns the text content of the rendered output.
func (w *Wrapper) Text() string {
	nodes, err := w.nodes()
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, n := range nodes {
		collectText(&b, n)
	}
	return strings.TrimSpace(b.String())
}

// Find returns the outer HTML of every element with the given tag name.
func (w *Wrapper) Find(tag string) []string {
	nodes, err := w.nodes()
	if err != nil {
		return nil
	}
	var found []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			var buf bytes.Buffer
			if html.Render(&buf, n) == nil {
				found = append(found, buf.String())
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return found
}

func (w *Wrapper) nodes() ([]*html.Node, error) {
	return html.ParseFragment(strings.NewReader(w.HTML()), &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div})
}

func (w *Wrapper) merge(partial map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	maps.Copy(w.state, partial)
}

func (w *Wrapper) render() error {
	w.mu.Lock()
	props, state := maps.Clone(w.props), maps.Clone(w.state)
	w.mu.Unlock()

	out, err := w.def.Render(props, state)
	if err == nil && w.renderer.registry != nil {
		out, err = expandFragment(out, w.renderer.registry, false)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
	if err != nil {
		return err
	}
	w.html = out
	w.renders++
	return nil
}

func collectText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
}
