package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/indicator-engine/core"
	"github.com/warp/indicator-engine/core/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type accessFixture struct {
	store  *store.Memory
	graph  *core.Graph
	access *core.AccessEvaluator
}

func newAccessFixture(t *testing.T) *accessFixture {
	t.Helper()
	f := &accessFixture{store: store.NewMemory(), graph: core.NewGraph()}
	f.access = core.NewAccessEvaluator(f.store, f.graph)
	return f
}

func (f *accessFixture) addIndicator(t *testing.T, id string, level core.AccessLevel) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.PutIndicator(ctx, &core.Indicator{
		ID:   core.IndicatorID(id),
		Code: core.Code(id),
		Name: id,
	}))
	require.NoError(t, f.store.SetLevel(ctx, core.IndicatorID(id), level))
}

func (f *accessFixture) can(t *testing.T, user *core.User, id string, action core.Action) bool {
	t.Helper()
	ok, err := f.access.Can(context.Background(), user, core.IndicatorID(id), action)
	require.NoError(t, err)
	return ok
}

var (
	anonymous *core.User
	member    = &core.User{ID: "maria", Email: "maria@ucy.ac.cy", OrgMember: true}
	outsider  = &core.User{ID: "omar", Email: "omar@example.com"}
	admin     = &core.User{ID: "root", Email: "root@ucy.ac.cy", IsSuperuser: true, OrgMember: true}
)

// =============================================================================
// RULE CHAIN
// =============================================================================

func TestAccess_RuleChain(t *testing.T) {
	// One row per (level, user, action) combination the chain
	// distinguishes.

	f := newAccessFixture(t)
	for _, level := range []core.AccessLevel{
		core.LevelPublic, core.LevelUnrestricted, core.LevelOrganization,
		core.LevelRestricted, core.LevelOrgFullPublic,
	} {
		f.addIndicator(t, string(level), level)
	}

	cases := []struct {
		name   string
		user   *core.User
		id     string
		action core.Action
		want   bool
	}{
		{"public view anonymous", anonymous, "public", core.ActionView, true},
		{"public edit anonymous", anonymous, "public", core.ActionEdit, false},
		{"public edit member", member, "public", core.ActionEdit, false},
		{"public edit superuser", admin, "public", core.ActionEdit, true},

		{"unrestricted edit anonymous", anonymous, "unrestricted", core.ActionEdit, true},
		{"unrestricted delete outsider", outsider, "unrestricted", core.ActionDelete, true},

		{"organization view outsider", outsider, "organization", core.ActionView, false},
		{"organization view anonymous", anonymous, "organization", core.ActionView, false},
		{"organization edit member", member, "organization", core.ActionEdit, true},

		{"org_full_public view anonymous", anonymous, "org_full_public", core.ActionView, true},
		{"org_full_public edit outsider", outsider, "org_full_public", core.ActionEdit, false},
		{"org_full_public edit member", member, "org_full_public", core.ActionEdit, true},

		{"restricted view anonymous", anonymous, "restricted", core.ActionView, false},
		{"restricted view member no grant", member, "restricted", core.ActionView, false},
		{"restricted any superuser", admin, "restricted", core.ActionDelete, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.can(t, tc.user, tc.id, tc.action))
		})
	}
}

func TestAccess_RestrictedGrant_FlagsAreIndependent(t *testing.T) {
	// GIVEN: A restricted indicator with a view+edit (but not delete)
	//        grant for omar
	// THEN: Each action follows its own flag

	f := newAccessFixture(t)
	f.addIndicator(t, "secret", core.LevelRestricted)
	require.NoError(t, f.store.SetGrant(context.Background(), &core.Grant{
		UserID:      outsider.ID,
		IndicatorID: "secret",
		CanView:     true,
		CanEdit:     true,
	}))

	assert.True(t, f.can(t, outsider, "secret", core.ActionView))
	assert.True(t, f.can(t, outsider, "secret", core.ActionEdit))
	assert.False(t, f.can(t, outsider, "secret", core.ActionDelete))
	assert.False(t, f.can(t, member, "secret", core.ActionView), "grants are per user")
}

func TestAccess_MissingLevel_InitializedPublic(t *testing.T) {
	// First contact with an indicator that has no stored level writes
	// PUBLIC.
	f := newAccessFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.PutIndicator(ctx, &core.Indicator{ID: "fresh", Code: "FRESH"}))

	assert.True(t, f.can(t, anonymous, "fresh", core.ActionView))

	level, err := f.store.GetLevel(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, core.LevelPublic, level)
}

// =============================================================================
// TRANSITIVE CHECKS
// =============================================================================

func TestAccess_Derived_RequiresEveryTransitiveBase(t *testing.T) {
	// GIVEN: derived reads mid, mid reads leaf; leaf is ORGANIZATION
	// THEN: Outsiders cannot view derived even though derived itself is
	//       PUBLIC; members can

	f := newAccessFixture(t)
	f.addIndicator(t, "leaf", core.LevelOrganization)
	f.addIndicator(t, "mid", core.LevelPublic)
	f.addIndicator(t, "derived", core.LevelPublic)
	require.NoError(t, f.graph.SetEdges("mid", []core.IndicatorID{"leaf"}))
	require.NoError(t, f.graph.SetEdges("derived", []core.IndicatorID{"mid"}))

	assert.False(t, f.can(t, outsider, "derived", core.ActionView))
	assert.True(t, f.can(t, member, "derived", core.ActionView))
}

func TestAccess_Require_ReturnsPermissionError(t *testing.T) {
	f := newAccessFixture(t)
	f.addIndicator(t, "organization", core.LevelOrganization)

	err := f.access.Require(context.Background(), outsider, "organization", core.ActionView)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
}

// =============================================================================
// LISTING UNIONS
// =============================================================================

func TestAccess_AccessibleIndicators_Union(t *testing.T) {
	f := newAccessFixture(t)
	f.addIndicator(t, "a-public", core.LevelPublic)
	f.addIndicator(t, "b-org", core.LevelOrganization)
	f.addIndicator(t, "c-restricted", core.LevelRestricted)
	f.addIndicator(t, "d-granted", core.LevelRestricted)
	require.NoError(t, f.store.SetGrant(context.Background(), &core.Grant{
		UserID:      outsider.ID,
		IndicatorID: "d-granted",
		CanView:     true,
	}))

	names := func(user *core.User) []string {
		inds, err := f.access.AccessibleIndicators(context.Background(), user)
		require.NoError(t, err)
		out := make([]string, len(inds))
		for i, ind := range inds {
			out[i] = string(ind.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a-public"}, names(anonymous))
	assert.Equal(t, []string{"a-public", "d-granted"}, names(outsider))
	assert.Equal(t, []string{"a-public", "b-org"}, names(member))
	assert.Equal(t, []string{"a-public", "b-org", "c-restricted", "d-granted"}, names(admin))
}

func TestAccess_AccessibleTables_AnyViewableMember(t *testing.T) {
	// A table is listed when any member falls in the view union; opening
	// it still requires view on every member.

	f := newAccessFixture(t)
	f.addIndicator(t, "open", core.LevelPublic)
	f.addIndicator(t, "closed", core.LevelOrganization)
	ctx := context.Background()
	mixed := &core.Table{ID: "mixed", Name: "Mixed", IndicatorIDs: []core.IndicatorID{"open", "closed"}}
	require.NoError(t, f.store.PutTable(ctx, mixed))
	require.NoError(t, f.store.PutTable(ctx, &core.Table{
		ID: "dark", Name: "Dark", IndicatorIDs: []core.IndicatorID{"closed"},
	}))

	tables, err := f.access.AccessibleTables(ctx, outsider)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, core.TableID("mixed"), tables[0].ID)

	ok, err := f.access.CanViewTable(ctx, outsider, mixed)
	require.NoError(t, err)
	assert.False(t, ok, "opening still applies the strict check")

	ok, err = f.access.CanViewTable(ctx, member, mixed)
	require.NoError(t, err)
	assert.True(t, ok)
}
