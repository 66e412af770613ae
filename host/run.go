package host

import (
	"context"
	"testing"

	"github.com/onsi/ginkgo/v2"
)

type tbKey struct{}

// TB returns the testing.TB of a case started by Run, or nil.
func TB(ctx context.Context) testing.TB {
	tb, _ := ctx.Value(tbKey{}).(testing.TB)
	return tb
}

// Run registers the suite and runs every case as a subtest named after its
// group path and test.
func (s *Suite) Run(t *testing.T) {
	t.Helper()
	if err := s.Register(); err != nil {
		t.Fatal(err)
	}
	for _, g := range s.Groups() {
		runGroup(t, g)
	}
}

func runGroup(t *testing.T, g *Group) {
	t.Run(g.Name(), func(t *testing.T) {
		for _, c := range g.Cases() {
			t.Run(c.Name, func(t *testing.T) {
				ctx := context.WithValue(context.Background(), tbKey{}, testing.TB(t))
				if err := c.Invoke(ctx, t.Cleanup); err != nil {
					t.Fatal(err)
				}
			})
		}
		for _, child := range g.Children() {
			runGroup(t, child)
		}
	})
}

// Specs registers the suite and declares every group as a Ginkgo container
// and every case as a spec. Call it at package level of a Ginkgo suite:
//
//	var _ = suite.Specs()
//
// A registration failure is reported by a single failing spec.
func (s *Suite) Specs() bool {
	if err := s.Register(); err != nil {
		ginkgo.It("registers the suite", func() {
			ginkgo.Fail(err.Error())
		})
		return true
	}
	for _, g := range s.Groups() {
		describeGroup(g)
	}
	return true
}

func describeGroup(g *Group) {
	ginkgo.Describe(g.Name(), func() {
		for _, c := range g.Cases() {
			ginkgo.It(c.Name, func(ctx ginkgo.SpecContext) {
				cleanup := func(fn func()) { ginkgo.DeferCleanup(fn) }
				if err := c.Invoke(ctx, cleanup); err != nil {
					ginkgo.Fail(err.Error())
				}
			})
		}
		for _, child := range g.Children() {
			describeGroup(child)
		}
	})
}
