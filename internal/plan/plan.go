package plan

import (
	"errors"
	"strings"
)

var (
	ErrUnknownPlan     = errors.New("unknown_plan")
	ErrUnknownResource = errors.New("unknown_resource")
)

// Code identifies a plan in the catalog.
type Code string

const (
	Free         Code = "FREE"
	Starter      Code = "STARTER"
	Professional Code = "PROFESSIONAL"
	Enterprise   Code = "ENTERPRISE"
)

// Resource names a usage-counted dimension. Unlimited is expressed as -1.
type Resource string

const (
	ResourceUsers         Resource = "users"
	ResourceProjects      Resource = "projects"
	ResourceContacts      Resource = "contacts"
	ResourceStorage       Resource = "storage"
	ResourceOrganizations Resource = "organizations"
)

// Feature names a boolean plan capability.
type Feature string

const (
	FeatureAdvancedReporting Feature = "advancedReporting"
	FeatureCustomBranding    Feature = "customBranding"
	FeatureAPIAccess         Feature = "apiAccess"
	FeaturePrioritySupport   Feature = "prioritySupport"
	FeatureWhiteLabel        Feature = "whiteLabel"
	FeatureMultiOrganization Feature = "multiOrganization"
)

// Limits holds per-resource ceilings. -1 means unlimited.
type Limits struct {
	MaxUsers         int64 `json:"max_users" mapstructure:"max_users"`
	MaxProjects      int64 `json:"max_projects" mapstructure:"max_projects"`
	MaxContacts      int64 `json:"max_contacts" mapstructure:"max_contacts"`
	MaxStorageMB     int64 `json:"max_storage_mb" mapstructure:"max_storage_mb"`
	MaxOrganizations int64 `json:"max_organizations" mapstructure:"max_organizations"`
}

// For returns the limit for the named resource.
func (l Limits) For(resource Resource) (int64, error) {
	switch resource {
	case ResourceUsers:
		return l.MaxUsers, nil
	case ResourceProjects:
		return l.MaxProjects, nil
	case ResourceContacts:
		return l.MaxContacts, nil
	case ResourceStorage:
		return l.MaxStorageMB, nil
	case ResourceOrganizations:
		return l.MaxOrganizations, nil
	default:
		return 0, ErrUnknownResource
	}
}

// Features holds the boolean capabilities of a plan.
type Features struct {
	AdvancedReporting bool `json:"advanced_reporting" mapstructure:"advanced_reporting"`
	CustomBranding    bool `json:"custom_branding" mapstructure:"custom_branding"`
	APIAccess         bool `json:"api_access" mapstructure:"api_access"`
	PrioritySupport   bool `json:"priority_support" mapstructure:"priority_support"`
	WhiteLabel        bool `json:"white_label" mapstructure:"white_label"`
	MultiOrganization bool `json:"multi_organization" mapstructure:"multi_organization"`
}

// Has returns the value of the named feature.
func (f Features) Has(feature Feature) bool {
	switch feature {
	case FeatureAdvancedReporting:
		return f.AdvancedReporting
	case FeatureCustomBranding:
		return f.CustomBranding
	case FeatureAPIAccess:
		return f.APIAccess
	case FeaturePrioritySupport:
		return f.PrioritySupport
	case FeatureWhiteLabel:
		return f.WhiteLabel
	case FeatureMultiOrganization:
		return f.MultiOrganization
	default:
		return false
	}
}

// Price holds plan prices in minor currency units.
type Price struct {
	Monthly int64 `json:"monthly" mapstructure:"monthly"`
	Yearly  int64 `json:"yearly" mapstructure:"yearly"`
}

// Plan is one catalog entry.
type Plan struct {
	Code     Code     `json:"code"`
	Name     string   `json:"name"`
	Limits   Limits   `json:"limits"`
	Features Features `json:"features"`
	Price    Price    `json:"price"`
}

// Catalog is an immutable snapshot of all purchasable plans.
type Catalog struct {
	plans map[Code]Plan
	order []Code
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() Catalog {
	return newCatalog(
		Plan{
			Code: Free,
			Name: "Free",
			Limits: Limits{
				MaxUsers:         1,
				MaxProjects:      5,
				MaxContacts:      100,
				MaxStorageMB:     1000,
				MaxOrganizations: 1,
			},
			Features: Features{},
			Price:    Price{Monthly: 0, Yearly: 0},
		},
		Plan{
			Code: Starter,
			Name: "Starter",
			Limits: Limits{
				MaxUsers:         5,
				MaxProjects:      25,
				MaxContacts:      500,
				MaxStorageMB:     5000,
				MaxOrganizations: 2,
			},
			Features: Features{
				AdvancedReporting: true,
				MultiOrganization: true,
			},
			Price: Price{Monthly: 2900, Yearly: 29000},
		},
		Plan{
			Code: Professional,
			Name: "Professional",
			Limits: Limits{
				MaxUsers:         15,
				MaxProjects:      100,
				MaxContacts:      2000,
				MaxStorageMB:     20000,
				MaxOrganizations: 5,
			},
			Features: Features{
				AdvancedReporting: true,
				CustomBranding:    true,
				APIAccess:         true,
				PrioritySupport:   true,
				MultiOrganization: true,
			},
			Price: Price{Monthly: 7900, Yearly: 79000},
		},
		Plan{
			Code: Enterprise,
			Name: "Enterprise",
			Limits: Limits{
				MaxUsers:         -1,
				MaxProjects:      -1,
				MaxContacts:      -1,
				MaxStorageMB:     100000,
				MaxOrganizations: -1,
			},
			Features: Features{
				AdvancedReporting: true,
				CustomBranding:    true,
				APIAccess:         true,
				PrioritySupport:   true,
				WhiteLabel:        true,
				MultiOrganization: true,
			},
			Price: Price{Monthly: 19900, Yearly: 199000},
		},
	)
}

func newCatalog(plans ...Plan) Catalog {
	byCode := make(map[Code]Plan, len(plans))
	order := make([]Code, 0, len(plans))
	for _, p := range plans {
		byCode[p.Code] = p
		order = append(order, p.Code)
	}
	return Catalog{plans: byCode, order: order}
}

// Get returns the plan for code. Codes are case-insensitive.
func (c Catalog) Get(code string) (Plan, error) {
	normalized := Code(strings.ToUpper(strings.TrimSpace(code)))
	p, ok := c.plans[normalized]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// Default returns the plan applied to organizations without a live subscription.
func (c Catalog) Default() Plan {
	p, err := c.Get(string(Free))
	if err != nil {
		// The built-in catalog always carries FREE; an override cannot remove it.
		panic("plan catalog has no FREE plan")
	}
	return p
}

// List returns all plans in catalog order.
func (c Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.plans[code])
	}
	return out
}
