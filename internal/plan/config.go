package plan

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CatalogHolder serves the active catalog and hot-reloads deployment
// overrides from an optional plans.yml. An invalid override file is
// rejected and the last good catalog stays active.
type CatalogHolder struct {
	current atomic.Value // holds Catalog
}

type planOverride struct {
	Name     string    `mapstructure:"name"`
	Price    *Price    `mapstructure:"price"`
	Limits   *Limits   `mapstructure:"limits"`
	Features *Features `mapstructure:"features"`
}

// NewCatalogHolder loads the catalog, applying overrides when plans.yml exists.
func NewCatalogHolder(log *zap.Logger) (*CatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/stagedesk/config")
	v.AddConfigPath("/etc/stagedesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STAGEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &CatalogHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultCatalog())
		return holder, nil
	}

	catalog, err := catalogFromViper(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := catalogFromViper(v)
		if err != nil {
			if log != nil {
				log.Warn("invalid plan override ignored", zap.String("file", e.Name), zap.Error(err))
			}
			return
		}
		holder.current.Store(updated)
		if log != nil {
			log.Info("plan catalog reloaded", zap.String("file", e.Name))
		}
	})

	return holder, nil
}

// NewStaticHolder returns a holder pinned to the given catalog. Used in tests.
func NewStaticHolder(catalog Catalog) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

// Current returns the active catalog snapshot.
func (h *CatalogHolder) Current() Catalog {
	return h.current.Load().(Catalog)
}

func catalogFromViper(v *viper.Viper) (Catalog, error) {
	overrides := map[string]planOverride{}
	if err := v.UnmarshalKey("plans", &overrides); err != nil {
		return Catalog{}, err
	}
	return applyOverrides(DefaultCatalog(), overrides)
}

func applyOverrides(base Catalog, overrides map[string]planOverride) (Catalog, error) {
	plans := base.List()
	for i := range plans {
		override, ok := lookupOverride(overrides, plans[i].Code)
		if !ok {
			continue
		}
		if name := strings.TrimSpace(override.Name); name != "" {
			plans[i].Name = name
		}
		if override.Price != nil {
			plans[i].Price = *override.Price
		}
		if override.Limits != nil {
			plans[i].Limits = *override.Limits
		}
		if override.Features != nil {
			plans[i].Features = *override.Features
		}
		if err := validatePlan(plans[i]); err != nil {
			return Catalog{}, err
		}
	}

	for code := range overrides {
		if _, err := base.Get(code); err != nil {
			return Catalog{}, fmt.Errorf("override for unknown plan %q", code)
		}
	}

	return newCatalog(plans...), nil
}

func lookupOverride(overrides map[string]planOverride, code Code) (planOverride, bool) {
	for key, value := range overrides {
		if strings.EqualFold(strings.TrimSpace(key), string(code)) {
			return value, true
		}
	}
	return planOverride{}, false
}

func validatePlan(p Plan) error {
	if p.Price.Monthly < 0 || p.Price.Yearly < 0 {
		return fmt.Errorf("plan %s: negative price", p.Code)
	}
	for _, limit := range []int64{
		p.Limits.MaxUsers,
		p.Limits.MaxProjects,
		p.Limits.MaxContacts,
		p.Limits.MaxStorageMB,
		p.Limits.MaxOrganizations,
	} {
		if limit < -1 {
			return fmt.Errorf("plan %s: limit below -1", p.Code)
		}
	}
	return nil
}
