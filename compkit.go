// Package compkit gives test groups components built from declared props.
//
// A group declares how its component is built (a builder method and a
// component source), optional default props, and per-test props, state and
// stores. When the group registers, a decorated runner rewrites its data
// providers so every test receives a lazily built component handle followed by
// its props, and registers the pre-processors that inject stores and apply
// state before the test body runs.
//
// The main entry point is Wire, which assembles the collaborators once:
//
//	kit, err := compkit.Wire(compkit.Config{})
//	kit.Components.Register(&ui.Definition{Name: "ui-button", Render: renderButton})
//	kit.ImportMap.Pin("./Button", "ui-button")
//
//	suite := kit.Suite()
//	g := suite.Describe("Button", &ButtonTests{})
//	kit.Extension(g).ComponentProvider("Build", "./Button")
package compkit

import (
	"fmt"
	"strconv"

	"dario.cat/mergo"
	"github.com/gobuffalo/buffalo"
	"github.com/gobuffalo/envy"
	"github.com/johnjansen/compkit/decorator"
	"github.com/johnjansen/compkit/enrich"
	"github.com/johnjansen/compkit/extension"
	"github.com/johnjansen/compkit/host"
	"github.com/johnjansen/compkit/provider"
	"github.com/johnjansen/compkit/runner"
	"github.com/johnjansen/compkit/store"
	"github.com/johnjansen/compkit/ui"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for compkit. Zero fields are filled from
// the environment and then from built-in defaults.
type Config struct {
	// DevMode logs at debug level and marks expanded component boundaries
	// with HTML comments. Defaults to COMPKIT_DEV.
	DevMode bool

	// LogLevel is a logrus level name. Defaults to COMPKIT_LOG_LEVEL or
	// "info". Ignored when Logger is set.
	LogLevel string

	// Logger receives all compkit logging. Defaults to a new logrus logger
	// at LogLevel.
	Logger logrus.FieldLogger

	// Importer resolves component sources. Defaults to the kit's ImportMap.
	Importer provider.Importer

	// Actor flushes UI work for act providers. Defaults to the kit's Renderer.
	Actor provider.Actor

	// Stores resolves store library names. Defaults to memory and sqlite.
	Stores *store.Libraries
}

// Kit holds references to all compkit collaborators after wiring.
type Kit struct {
	// Extensions maps groups to their declarations.
	Extensions *extension.Context

	// Engine rewrites data providers.
	Engine *enrich.Engine

	// Components is the registry of the built-in rendering library.
	Components *ui.Registry

	// ImportMap resolves component sources to registered components.
	ImportMap *ui.ImportMap

	// Renderer mounts components and batches their updates.
	Renderer *ui.Renderer

	Logger logrus.FieldLogger

	// Config is the configuration after defaults were applied.
	Config Config
}

// envDefaults reads the configuration defaults from the environment.
func envDefaults() (Config, error) {
	dev, err := strconv.ParseBool(envy.Get("COMPKIT_DEV", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("compkit: invalid COMPKIT_DEV: %w", err)
	}
	return Config{
		DevMode:  dev,
		LogLevel: envy.Get("COMPKIT_LOG_LEVEL", "info"),
	}, nil
}

// Wire validates cfg, fills in defaults and assembles a Kit.
func Wire(cfg Config) (*Kit, error) {
	defaults, err := envDefaults()
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return nil, fmt.Errorf("compkit: failed to apply defaults: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("compkit: %w", err)
	}
	if cfg.DevMode {
		level = logrus.DebugLevel
	}
	if cfg.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(level)
		cfg.Logger = logger
	}

	kit := &Kit{Logger: cfg.Logger}
	kit.Components = ui.NewRegistry()
	kit.ImportMap = ui.NewImportMap(kit.Components)
	kit.Renderer = ui.NewRenderer(kit.Components, cfg.Logger)

	if cfg.Importer == nil {
		cfg.Importer = kit.ImportMap
	}
	if cfg.Actor == nil {
		cfg.Actor = kit.Renderer
	}
	if cfg.Stores == nil {
		cfg.Stores = store.NewLibraries()
	}

	kit.Extensions = extension.NewContext(cfg.Importer, cfg.Logger)
	kit.Engine = enrich.New(cfg.Logger)
	kit.Config = cfg

	cfg.Logger.WithField("dev", cfg.DevMode).WithField("stores", cfg.Stores.Names()).Debug("compkit wired")
	return kit, nil
}

// Decorate wraps inner so groups it registers are enriched.
func (k *Kit) Decorate(inner runner.Runner) *decorator.Runner {
	return decorator.New(inner, decorator.Config{
		Extensions: k.Extensions,
		Engine:     k.Engine,
		Stores:     k.Config.Stores,
		Actor:      k.Config.Actor,
		Logger:     k.Logger,
	})
}

// Extension returns the declarations of g, creating them when missing.
func (k *Kit) Extension(g runner.Group) *extension.Extension {
	return k.Extensions.Ensure(g)
}

// Suite returns a reference host suite whose runner is decorated.
func (k *Kit) Suite() *host.Suite {
	return host.NewSuite(host.Options{Logger: k.Logger}).WithRunner(func(inner runner.Runner) runner.Runner {
		return k.Decorate(inner)
	})
}

// Mount installs component expansion into a Buffalo application so pages
// render the same components the tests build:
//
//	app := buffalo.New(buffalo.Options{...})
//	kit.Mount(app)
//
// Handlers can render a component directly through the "component" helper:
// c.Value("component").(func(string, map[string]string) string)("ui-button", attrs)
func (k *Kit) Mount(app *buffalo.App) {
	app.Use(ui.ExpanderMiddleware(k.Components, k.Config.DevMode))
	app.Use(func(next buffalo.Handler) buffalo.Handler {
		return func(c buffalo.Context) error {
			c.Set("component", func(name string, attrs map[string]string) string {
				html, err := k.Components.Render(name, attrs, nil)
				if err != nil {
					c.Logger().Warnf("component %s failed to render: %v", name, err)
					return ""
				}
				return string(html)
			})
			return next(c)
		}
	})
}

// Version returns the current compkit version.
func Version() string {
	return "0.1.0-alpha"
}
