package symphra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolverFixture(t *testing.T) (*Manager, *Resolver) {
	t.Helper()
	mgr, _ := newTestManager(
		newStub("a"),
		newStub("b", "a"),
		newStub("c", "b"),
		newStub("standalone"),
	)
	require.NoError(t, loadAll(context.Background(), mgr, "a", "b", "c", "standalone"))
	return mgr, mgr.Resolver()
}

func TestResolveStartOrder(t *testing.T) {
	_, res := resolverFixture(t)
	order, err := res.ResolveStartOrder(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "standalone"}, order)
}

func TestResolveStopOrderIsReverse(t *testing.T) {
	_, res := resolverFixture(t)
	order, err := res.ResolveStopOrder(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"standalone", "c", "b", "a"}, order)
}

func TestResolveSubsetOrder(t *testing.T) {
	_, res := resolverFixture(t)
	order, err := res.ResolveStartOrder([]string{"c", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, order)
}

func TestValidateDependencies(t *testing.T) {
	mgr, _ := newTestManager(
		newStub("api", "db", "cache"),
		newStub("db"),
	)
	ctx := context.Background()
	require.NoError(t, loadAll(ctx, mgr, "db", "api"))

	missing := mgr.Resolver().ValidateDependencies(nil)
	require.Len(t, missing, 1)
	assert.Equal(t, MissingDependency{Dependent: "api", Dependency: "cache"}, missing[0])
}

func TestValidateDependenciesClean(t *testing.T) {
	_, res := resolverFixture(t)
	assert.Empty(t, res.ValidateDependencies(nil))
}

func TestCheckCyclesEmptyOnDAG(t *testing.T) {
	_, res := resolverFixture(t)
	assert.Empty(t, res.CheckCycles())
}

func TestStartLevels(t *testing.T) {
	mgr, _ := newTestManager(
		newStub("a"),
		newStub("b"),
		newStub("c", "a", "b"),
		newStub("d", "c"),
	)
	ctx := context.Background()
	require.NoError(t, loadAll(ctx, mgr, "a", "b", "c", "d"))

	levels, err := mgr.Resolver().StartLevels(nil)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a", "b"}, levels[0])
	assert.Equal(t, []string{"c"}, levels[1])
	assert.Equal(t, []string{"d"}, levels[2])
}

func TestResolutionIsPure(t *testing.T) {
	_, res := resolverFixture(t)
	first, err := res.ResolveStartOrder(nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := res.ResolveStartOrder(nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
