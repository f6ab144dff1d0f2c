package finance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gymcore/billing-engine/billing"
)

// SystemMembershipCategory is the name of the engine-owned income category
// that membership revenue reports under. It is seeded as a system category
// and protected from rename and delete.
const SystemMembershipCategory = "Membership fees"

type defaultCategory struct {
	name   string
	kind   Kind
	system bool
}

// defaultCategories is the taxonomy every new tenant starts with.
var defaultCategories = []defaultCategory{
	{SystemMembershipCategory, KindIncome, true},
	{"Enrollment fee", KindIncome, false},
	{"Personal training", KindIncome, false},
	{"Product sales", KindIncome, false},
	{"Other income", KindIncome, false},
	{"Rent", KindExpense, false},
	{"Electricity", KindExpense, false},
	{"Water", KindExpense, false},
	{"Internet", KindExpense, false},
	{"Salaries", KindExpense, false},
	{"Equipment", KindExpense, false},
	{"Maintenance", KindExpense, false},
	{"Cleaning supplies", KindExpense, false},
	{"Marketing", KindExpense, false},
	{"Taxes and fees", KindExpense, false},
	{"Other expenses", KindExpense, false},
}

// SeedDefaultCategories creates the default taxonomy for a tenant. Skipped
// entirely when the tenant already has categories, so it is safe to call on
// every tenant creation and on startup.
func (e *Engine) SeedDefaultCategories(ctx context.Context, tenantID billing.TenantID) (int, error) {
	existing, err := e.categories.ListCategories(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list categories: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	created := 0
	for _, d := range defaultCategories {
		category := Category{
			ID:       CategoryID(uuid.NewString()),
			TenantID: tenantID,
			Name:     d.name,
			Kind:     d.kind,
			System:   d.system,
			Active:   true,
		}
		if err := e.categories.CreateCategory(ctx, category); err != nil {
			return created, fmt.Errorf("seed category %q: %w", d.name, err)
		}
		created++
	}
	return created, nil
}
