// Package olist defines the reference e-commerce sources (the Olist marketplace tables plus the
// synthetic clickstream) and the star schema curated from them.
package olist

import (
	"fmt"
	"strings"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/curate"
)

const (
	Orders            = "orders"
	Customers         = "customers"
	Products          = "products"
	OrderItems        = "order_items"
	ClickstreamEvents = "clickstream_events"

	DimCustomer           = "dim_customer"
	DimProduct            = "dim_product"
	FactOrders            = "fact_orders"
	FactOrderItems        = "fact_order_items"
	FactClickstreamEvents = "fact_clickstream_events"
)

// EventTypes is the closed set of clickstream event types.
var EventTypes = []string{"page_view", "view_product", "add_to_cart", "checkout", "purchase"}

func str(name string) contract.Field {
	return contract.Field{Name: name, Type: contract.TypeString}
}

func optStr(name string) contract.Field {
	return contract.Field{Name: name, Type: contract.TypeString, Nullable: true}
}

// Contracts returns the source contracts in dependency-free order.
func Contracts() []contract.Contract {
	return []contract.Contract{
		{
			Dataset: Customers,
			Fields: []contract.Field{
				str("customer_id"),
				optStr("customer_unique_id"),
				optStr("customer_city"),
				optStr("customer_state"),
			},
			Key: []string{"customer_id"},
		},
		{
			Dataset: Products,
			Fields: []contract.Field{
				str("product_id"),
				optStr("product_category_name"),
			},
			Key: []string{"product_id"},
		},
		{
			Dataset: Orders,
			Fields: []contract.Field{
				str("order_id"),
				str("customer_id"),
				{Name: "order_purchase_timestamp", Type: contract.TypeTimestamp},
				optStr("order_status"),
				{Name: "order_purchase_date", Type: contract.TypeDate, DerivedFrom: "order_purchase_timestamp", Derive: contract.DeriveDate},
			},
			Key:             []string{"order_id"},
			EventTimeField:  "order_purchase_timestamp",
			PartitionColumn: "order_purchase_date",
		},
		{
			Dataset: OrderItems,
			Fields: []contract.Field{
				str("order_id"),
				str("product_id"),
				{Name: "price", Type: contract.TypeDecimal},
				{Name: "freight_value", Type: contract.TypeDecimal, Nullable: true},
			},
			Key: []string{"order_id", "product_id"},
		},
		{
			Dataset: ClickstreamEvents,
			Fields: []contract.Field{
				str("event_id"),
				str("session_id"),
				optStr("customer_id"),
				{Name: "event_type", Type: contract.TypeString, Enum: EventTypes},
				{Name: "event_ts", Type: contract.TypeTimestamp},
				optStr("product_id"),
				optStr("order_id"),
				optStr("device_type"),
				optStr("traffic_source"),
				{Name: "is_authenticated", Type: contract.TypeBoolean, Nullable: true},
				optStr("customer_city"),
				optStr("customer_state"),
				{Name: "event_date", Type: contract.TypeDate, DerivedFrom: "event_ts", Derive: contract.DeriveDate},
			},
			Key:             []string{"event_id"},
			EventTimeField:  "event_ts",
			PartitionColumn: "event_date",
		},
	}
}

// Register publishes every reference contract.
func Register(r *contract.Registry) error {
	for _, c := range Contracts() {
		if _, err := r.Register(c); err != nil {
			return fmt.Errorf("failed to register %s: %w", c.Dataset, err)
		}
	}
	return nil
}

type PlanOptions struct {
	// MaxRejectRate applies to every fact; zero disables the check.
	MaxRejectRate float64
	// Policies overrides foreign key policies, keyed "<fact>.<field>".
	Policies map[string]curate.Policy
}

// Plan returns the star schema. Customer, product and order references are strict, except the
// optional order of a clickstream event, which is tagged unknown.
func Plan(opts PlanOptions) (*curate.Plan, error) {
	plan := &curate.Plan{
		Dimensions: []curate.DimensionSpec{
			{
				Name: DimCustomer, Source: Customers,
				KeyFields:       []string{"customer_id"},
				AttributeFields: []string{"customer_unique_id", "customer_city", "customer_state"},
			},
			{
				Name: DimProduct, Source: Products,
				KeyFields:       []string{"product_id"},
				AttributeFields: []string{"product_category_name"},
			},
		},
		Facts: []curate.FactSpec{
			{
				Name: FactOrders, Source: Orders,
				KeyFields:       []string{"order_id"},
				ForeignKeys:     []curate.ForeignKey{{Field: "customer_id", Target: DimCustomer, Policy: curate.PolicyStrict}},
				MeasureFields:   []string{"order_status", "order_purchase_timestamp"},
				PartitionColumn: "order_purchase_date",
				EventTimeField:  "order_purchase_timestamp",
			},
			{
				Name: FactOrderItems, Source: OrderItems,
				KeyFields: []string{"order_id", "product_id"},
				ForeignKeys: []curate.ForeignKey{
					{Field: "order_id", Target: FactOrders, Policy: curate.PolicyStrict},
					{Field: "product_id", Target: DimProduct, Policy: curate.PolicyStrict},
				},
				MeasureFields: []string{"price", "freight_value"},
			},
			{
				Name: FactClickstreamEvents, Source: ClickstreamEvents,
				KeyFields: []string{"event_id"},
				ForeignKeys: []curate.ForeignKey{
					{Field: "customer_id", Target: DimCustomer, Policy: curate.PolicyStrict},
					{Field: "product_id", Target: DimProduct, Policy: curate.PolicyStrict},
					{Field: "order_id", Target: FactOrders, Policy: curate.PolicyTagUnknown},
				},
				MeasureFields:   []string{"session_id", "event_type", "event_ts", "device_type", "traffic_source", "is_authenticated"},
				PartitionColumn: "event_date",
				EventTimeField:  "event_ts",
			},
		},
	}

	applied := map[string]bool{}
	for i := range plan.Facts {
		f := &plan.Facts[i]
		f.MaxRejectRate = opts.MaxRejectRate
		for j := range f.ForeignKeys {
			key := f.Name + "." + f.ForeignKeys[j].Field
			if p, ok := opts.Policies[key]; ok {
				f.ForeignKeys[j].Policy = p
				applied[key] = true
			}
		}
	}
	for key := range opts.Policies {
		if !applied[key] {
			return nil, fmt.Errorf("no foreign key %s in plan", key)
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// ParsePolicies parses "<fact>.<field>=<policy>" overrides.
func ParsePolicies(specs []string) (map[string]curate.Policy, error) {
	out := make(map[string]curate.Policy, len(specs))
	for _, s := range specs {
		key, value, ok := strings.Cut(s, "=")
		if !ok || !strings.Contains(key, ".") {
			return nil, fmt.Errorf("invalid fk policy %q, want <fact>.<field>=<policy>", s)
		}
		p, err := curate.ParsePolicy(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		out[strings.TrimSpace(key)] = p
	}
	return out, nil
}

var fileAliases = map[string]string{
	"olist_orders_dataset":      Orders,
	"olist_customers_dataset":   Customers,
	"olist_products_dataset":    Products,
	"olist_order_items_dataset": OrderItems,
	"olist_clickstream_events":  ClickstreamEvents,
}

// ResolveFile maps a source file stem or directory name to its dataset.
func ResolveFile(name string) (string, bool) {
	if ds, ok := fileAliases[name]; ok {
		return ds, true
	}
	switch name {
	case Orders, Customers, Products, OrderItems, ClickstreamEvents:
		return name, true
	}
	return "", false
}
