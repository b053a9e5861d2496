package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogGet(t *testing.T) {
	catalog := DefaultCatalog()

	p, err := catalog.Get("STARTER")
	require.NoError(t, err)
	require.Equal(t, Starter, p.Code)
	require.Equal(t, int64(25), p.Limits.MaxProjects)
	require.Equal(t, int64(2900), p.Price.Monthly)

	p, err = catalog.Get("professional")
	require.NoError(t, err)
	require.Equal(t, Professional, p.Code)

	_, err = catalog.Get("GOLD")
	require.True(t, errors.Is(err, ErrUnknownPlan))
}

func TestCatalogDefaultIsFree(t *testing.T) {
	p := DefaultCatalog().Default()
	require.Equal(t, Free, p.Code)
	require.Equal(t, int64(0), p.Price.Monthly)
	require.False(t, p.Features.Has(FeatureAPIAccess))
}

func TestCatalogListOrder(t *testing.T) {
	plans := DefaultCatalog().List()
	require.Len(t, plans, 4)
	require.Equal(t, []Code{Free, Starter, Professional, Enterprise},
		[]Code{plans[0].Code, plans[1].Code, plans[2].Code, plans[3].Code})
}

func TestEnterpriseUnlimitedExceptStorage(t *testing.T) {
	p, err := DefaultCatalog().Get("ENTERPRISE")
	require.NoError(t, err)

	for _, resource := range []Resource{ResourceUsers, ResourceProjects, ResourceContacts, ResourceOrganizations} {
		limit, err := p.Limits.For(resource)
		require.NoError(t, err)
		require.Equal(t, int64(-1), limit, "resource %s", resource)
	}

	storage, err := p.Limits.For(ResourceStorage)
	require.NoError(t, err)
	require.Equal(t, int64(100000), storage)

	_, err = p.Limits.For(Resource("widgets"))
	require.True(t, errors.Is(err, ErrUnknownResource))
}

func TestApplyOverrides(t *testing.T) {
	overrides := map[string]planOverride{
		"starter": {
			Price: &Price{Monthly: 2500, Yearly: 25000},
		},
	}

	catalog, err := applyOverrides(DefaultCatalog(), overrides)
	require.NoError(t, err)

	p, err := catalog.Get("STARTER")
	require.NoError(t, err)
	require.Equal(t, int64(2500), p.Price.Monthly)
	// Untouched fields keep their defaults.
	require.Equal(t, int64(25), p.Limits.MaxProjects)

	free, err := catalog.Get("FREE")
	require.NoError(t, err)
	require.Equal(t, int64(0), free.Price.Monthly)
}

func TestApplyOverridesRejectsInvalid(t *testing.T) {
	_, err := applyOverrides(DefaultCatalog(), map[string]planOverride{
		"STARTER": {Price: &Price{Monthly: -1}},
	})
	require.Error(t, err)

	_, err = applyOverrides(DefaultCatalog(), map[string]planOverride{
		"GOLD": {},
	})
	require.Error(t, err)
}
