package ui

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/gobuffalo/buffalo"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxDepth bounds how deeply components may render other components.
const maxDepth = 16

// ExpanderMiddleware returns middleware that expands <ui-*> tags in HTML
// responses. Other content types pass through untouched. In dev mode every
// expanded component is framed by <!-- ui-name --> comments.
//
//	app.Use(ui.ExpanderMiddleware(registry, devMode))
func ExpanderMiddleware(registry *Registry, devMode bool) buffalo.MiddlewareFunc {
	return func(next buffalo.Handler) buffalo.Handler {
		return func(c buffalo.Context) error {
			wrapper := &responseWrapper{
				ResponseWriter: c.Response(),
				body:           &bytes.Buffer{},
				statusCode:     http.StatusOK,
			}

			original := c.Response()
			if err := next(capturingContext{Context: c, res: wrapper}); err != nil {
				return err
			}

			body := wrapper.body.Bytes()
			if strings.Contains(wrapper.Header().Get("Content-Type"), "text/html") {
				// unexpanded output beats an error page
				if expanded, err := expandDocument(body, registry, devMode); err == nil {
					body = expanded
				} else {
					c.Logger().Warnf("component expansion failed: %v", err)
				}
			}

			original.WriteHeader(wrapper.statusCode)
			_, err := original.Write(body)
			return err
		}
	}
}

// expandDocument expands the components of a complete HTML document.
func expandDocument(content []byte, registry *Registry, devMode bool) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return content, err
	}
	if err := expandNode(doc, registry, devMode, 0); err != nil {
		return content, err
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return content, err
	}
	return buf.Bytes(), nil
}

// expandFragment expands the components of an HTML fragment such as the
// output of a single component.
func expandFragment(content []byte, registry *Registry, devMode bool) ([]byte, error) {
	container := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(bytes.NewReader(content), container)
	if err != nil {
		return content, err
	}
	for _, n := range nodes {
		container.AppendChild(n)
	}
	if err := expandNode(container, registry, devMode, 0); err != nil {
		return content, err
	}

	var buf bytes.Buffer
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return content, err
		}
	}
	return buf.Bytes(), nil
}

// expandNode replaces every component tag below n with its rendering.
// Unknown or failing components are left in place.
func expandNode(n *html.Node, registry *Registry, devMode bool, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("components nested deeper than %d levels", maxDepth)
	}

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type != html.ElementNode || !strings.HasPrefix(c.Data, TagPrefix) {
			if err := expandNode(c, registry, devMode, depth); err != nil {
				return err
			}
			c = next
			continue
		}

		attrs := make(map[string]string, len(c.Attr))
		for _, attr := range c.Attr {
			attrs[attr.Key] = attr.Val
		}
		rendered, err := registry.Render(c.Data, attrs, extractSlots(c))
		if err != nil {
			c = next
			continue
		}
		nodes, err := html.ParseFragment(bytes.NewReader(rendered), &html.Node{
			Type:     html.ElementNode,
			Data:     "div",
			DataAtom: atom.Div,
		})
		if err != nil {
			c = next
			continue
		}

		// expand nested components before splicing them in
		holder := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
		for _, rn := range nodes {
			holder.AppendChild(rn)
		}
		if err := expandNode(holder, registry, devMode, depth+1); err != nil {
			return err
		}

		if devMode {
			n.InsertBefore(&html.Node{Type: html.CommentNode, Data: " " + c.Data + " "}, c)
		}
		for rn := holder.FirstChild; rn != nil; {
			following := rn.NextSibling
			holder.RemoveChild(rn)
			n.InsertBefore(rn, c)
			rn = following
		}
		if devMode {
			n.InsertBefore(&html.Node{Type: html.CommentNode, Data: " /" + c.Data + " "}, c)
		}
		n.RemoveChild(c)
		c = next
	}
	return nil
}

// extractSlots collects <ui-slot name="..."> children by name. Everything
// else is the default slot.
func extractSlots(n *html.Node) map[string]string {
	slots := make(map[string]string)
	var defaultSlot bytes.Buffer

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == TagPrefix+"slot" {
			name := "default"
			for _, attr := range c.Attr {
				if attr.Key == "name" {
					name = attr.Val
					break
				}
			}
			var buf bytes.Buffer
			for sc := c.FirstChild; sc != nil; sc = sc.NextSibling {
				_ = html.Render(&buf, sc)
			}
			slots[name] = buf.String()
			continue
		}
		_ = html.Render(&defaultSlot, c)
	}

	if defaultSlot.Len() > 0 {
		slots["default"] = defaultSlot.String()
	}
	return slots
}

// capturingContext hands handlers the buffering writer.
type capturingContext struct {
	buffalo.Context
	res http.ResponseWriter
}

func (c capturingContext) Response() http.ResponseWriter {
	return c.res
}

// responseWrapper buffers a response so it can be rewritten.
type responseWrapper struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (w *responseWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
}

func (w *responseWrapper) Write(b []byte) (int, error) {
	return w.body.Write(b)
}
