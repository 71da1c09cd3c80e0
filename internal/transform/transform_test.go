package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransform struct {
	name     string
	stage    Stage
	priority int
	applies  bool
	runErr   error
	onRun    func()
}

func (f fakeTransform) Name() string    { return f.name }
func (f fakeTransform) Stage() Stage    { return f.stage }
func (f fakeTransform) Priority() int   { return f.priority }
func (f fakeTransform) Applies(*Context) bool { return f.applies }
func (f fakeTransform) Run(*Context) error {
	if f.onRun != nil {
		f.onRun()
	}
	return f.runErr
}

func TestRegistry_FreezeOrdersByPriorityThenRegistration(t *testing.T) {
	reg := NewRegistry()
	var order []string
	record := func(name string) func() { return func() { order = append(order, name) } }

	reg.Register(fakeTransform{name: "b", stage: StageIngress, priority: 10, applies: true, onRun: record("b")})
	reg.Register(fakeTransform{name: "a", stage: StageIngress, priority: 5, applies: true, onRun: record("a")})
	reg.Register(fakeTransform{name: "c", stage: StageIngress, priority: 10, applies: true, onRun: record("c")})
	reg.Freeze()

	require.NoError(t, Run(context.Background(), StageIngress, reg, &Context{}))
	assert.Equal(t, []string{"a", "b", "c"}, order, "priority 5 runs first; equal-priority ties keep registration order")
}

func TestRegistry_SkipsTransformsThatDoNotApply(t *testing.T) {
	reg := NewRegistry()
	ran := false
	reg.Register(fakeTransform{name: "skip", stage: StageProvider, applies: false, onRun: func() { ran = true }})
	reg.Freeze()

	require.NoError(t, Run(context.Background(), StageProvider, reg, &Context{}))
	assert.False(t, ran)
}

func TestRun_StopsAtFirstError(t *testing.T) {
	reg := NewRegistry()
	secondRan := false
	reg.Register(fakeTransform{name: "first", stage: StageEgress, priority: 1, applies: true, runErr: errors.New("boom")})
	reg.Register(fakeTransform{name: "second", stage: StageEgress, priority: 2, applies: true, onRun: func() { secondRan = true }})
	reg.Freeze()

	err := Run(context.Background(), StageEgress, reg, &Context{})
	assert.Error(t, err)
	assert.False(t, secondRan)
}

func TestRegistry_ForReturnsEmptyForUnusedStage(t *testing.T) {
	reg := NewRegistry()
	reg.Freeze()
	assert.Empty(t, reg.For(StageIngress))
}
