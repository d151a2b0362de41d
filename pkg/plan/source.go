package plan

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/clubbilling/pkg/owner"
)

// Source loads plan definitions into a Catalog.
type Source interface {
	Load(ctx context.Context) ([]Plan, error)
}

type inMemSource struct {
	plans []Plan
}

// NewInMemSource serves a fixed plan list, used by tests and embedded defaults.
func NewInMemSource(plans ...Plan) Source {
	return &inMemSource{plans: plans}
}

func (s *inMemSource) Load(context.Context) ([]Plan, error) {
	return slices.Clone(s.plans), nil
}

// yamlFile is the on-disk catalog layout.
type yamlFile struct {
	Plans []yamlPlan `yaml:"plans"`
}

type yamlPlan struct {
	ID        string           `yaml:"id"`
	Scope     Scope            `yaml:"scope"`
	TenantID  string           `yaml:"tenant_id"`
	Tier      owner.Tier       `yaml:"tier"`
	Name      string           `yaml:"name"`
	Price     string           `yaml:"price"`
	Currency  string           `yaml:"currency"`
	Interval  Interval         `yaml:"interval"`
	TrialDays int              `yaml:"trial_days"`
	Limits    map[Metric]int64 `yaml:"limits"`
	Features  []Feature        `yaml:"features"`
	ProductID string           `yaml:"product_id"`
	PriceID   string           `yaml:"price_id"`
}

type yamlSource struct {
	path string
}

// NewYAMLSource reads plans from a YAML file. Prices are written in major
// units as strings ("49.00") and converted with ParsePrice.
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(context.Context) ([]Plan, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadPlans, err)
	}
	defer f.Close()
	return DecodeYAML(f)
}

// DecodeYAML parses a catalog document.
func DecodeYAML(r io.Reader) ([]Plan, error) {
	var doc yamlFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrLoadPlans, err)
	}

	plans := make([]Plan, 0, len(doc.Plans))
	for _, yp := range doc.Plans {
		price := yp.Price
		if price == "" {
			price = "0"
		}
		money, err := ParsePrice(price, yp.Currency)
		if err != nil {
			return nil, fmt.Errorf("plan %q: %w", yp.ID, err)
		}

		var tenantID uuid.UUID
		if yp.TenantID != "" {
			if tenantID, err = uuid.Parse(yp.TenantID); err != nil {
				return nil, fmt.Errorf("%w: plan %q: tenant_id: %v", ErrInvalidPlan, yp.ID, err)
			}
		}

		plans = append(plans, Plan{
			ID:        yp.ID,
			Scope:     yp.Scope,
			TenantID:  tenantID,
			Tier:      yp.Tier,
			Name:      yp.Name,
			Price:     money,
			Interval:  yp.Interval,
			TrialDays: yp.TrialDays,
			Limits:    yp.Limits,
			Features:  yp.Features,
			ProductID: yp.ProductID,
			PriceID:   yp.PriceID,
		})
	}
	return plans, nil
}
