package features

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/cucumber/godog"
	"github.com/gobuffalo/buffalo"
	"github.com/johnjansen/compkit/ui"
)

// ComponentsTestSuite holds test state for component expansion scenarios
type ComponentsTestSuite struct {
	registry *ui.Registry
	app      *buffalo.App
	response *httptest.ResponseRecorder
}

// NewComponentsTestSuite creates a new test suite
func NewComponentsTestSuite() *ComponentsTestSuite {
	return &ComponentsTestSuite{}
}

// Reset clears the test state
func (s *ComponentsTestSuite) Reset() {
	s.registry = nil
	s.app = nil
	s.response = nil
}

// InitializeComponentsScenario registers all component step definitions
func InitializeComponentsScenario(ctx *godog.ScenarioContext) {
	suite := NewComponentsTestSuite()

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		suite.Reset()
		return ctx, nil
	})

	// Background steps
	ctx.Step(`^the component registry is initialized$`, suite.componentRegistryIsInitialized)
	ctx.Step(`^I have registered a button component$`, suite.iHaveRegisteredButtonComponent)
	ctx.Step(`^I have registered a card component$`, suite.iHaveRegisteredCardComponent)
	ctx.Step(`^the component expansion middleware is active$`, suite.componentExpansionMiddlewareIsActive)
	ctx.Step(`^the component expansion middleware is active in development mode$`, suite.componentExpansionMiddlewareIsActiveInDevMode)

	// Request steps
	ctx.Step(`^I request a page containing:$`, suite.iRequestPageContaining)
	ctx.Step(`^I request JSON containing '([^']*)'$`, suite.iRequestJSONContaining)

	// Response steps
	ctx.Step(`^the response should contain '([^']*)'$`, suite.responseShouldContain)
	ctx.Step(`^the response should contain "([^"]*)"$`, suite.responseShouldContain)
	ctx.Step(`^the response should not contain "([^"]*)"$`, suite.responseShouldNotContain)
	ctx.Step(`^the response should be exactly '([^']*)'$`, suite.responseShouldBeExactly)
}

func (s *ComponentsTestSuite) componentRegistryIsInitialized() error {
	s.registry = ui.NewRegistry()
	return nil
}

func (s *ComponentsTestSuite) iHaveRegisteredButtonComponent() error {
	return s.registry.Register(&ui.Definition{
		Name: "ui-button",
		Render: func(props, state map[string]any) ([]byte, error) {
			return []byte(fmt.Sprintf(`<button class="btn">%v</button>`, props["label"])), nil
		},
	})
}

func (s *ComponentsTestSuite) iHaveRegisteredCardComponent() error {
	return s.registry.Register(&ui.Definition{
		Name: "ui-card",
		Render: func(props, state map[string]any) ([]byte, error) {
			slots, _ := props["slots"].(map[string]string)
			return []byte(fmt.Sprintf(`<div class="card"><h2>%s</h2>%v</div>`, slots["header"], props["children"])), nil
		},
	})
}

func (s *ComponentsTestSuite) mount(devMode bool) {
	s.app = buffalo.New(buffalo.Options{})
	s.app.Use(ui.ExpanderMiddleware(s.registry, devMode))
}

func (s *ComponentsTestSuite) componentExpansionMiddlewareIsActive() error {
	s.mount(false)
	return nil
}

func (s *ComponentsTestSuite) componentExpansionMiddlewareIsActiveInDevMode() error {
	s.mount(true)
	return nil
}

func (s *ComponentsTestSuite) serve(contentType, body string) {
	s.app.GET("/", func(c buffalo.Context) error {
		c.Response().Header().Set("Content-Type", contentType)
		_, err := c.Response().Write([]byte(body))
		return err
	})
	s.response = httptest.NewRecorder()
	s.app.ServeHTTP(s.response, httptest.NewRequest(http.MethodGet, "/", nil))
}

func (s *ComponentsTestSuite) iRequestPageContaining(doc *godog.DocString) error {
	s.serve("text/html; charset=utf-8", "<html><body>"+doc.Content+"</body></html>")
	return nil
}

func (s *ComponentsTestSuite) iRequestJSONContaining(body string) error {
	s.serve("application/json", body)
	return nil
}

func (s *ComponentsTestSuite) body() (string, error) {
	if s.response == nil {
		return "", fmt.Errorf("no request was made")
	}
	return s.response.Body.String(), nil
}

func (s *ComponentsTestSuite) responseShouldContain(expected string) error {
	body, err := s.body()
	if err != nil {
		return err
	}
	if !strings.Contains(body, expected) {
		return fmt.Errorf("response does not contain %q\nGot: %s", expected, body)
	}
	return nil
}

func (s *ComponentsTestSuite) responseShouldNotContain(unexpected string) error {
	body, err := s.body()
	if err != nil {
		return err
	}
	if strings.Contains(body, unexpected) {
		return fmt.Errorf("response should not contain %q\nGot: %s", unexpected, body)
	}
	return nil
}

func (s *ComponentsTestSuite) responseShouldBeExactly(expected string) error {
	body, err := s.body()
	if err != nil {
		return err
	}
	if body != expected {
		return fmt.Errorf("expected response %q, got %q", expected, body)
	}
	return nil
}
