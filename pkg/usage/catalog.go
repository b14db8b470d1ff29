// Package usage tracks per-user plans and monthly usage against plan limits.
package usage

import "pdfreader/pkg/domain"

// Plan tiers.
const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanTeam = "team"
)

const (
	mib = int64(1) << 20
	gib = int64(1) << 30
)

// DefaultCatalog returns the seeded plan tiers.
func DefaultCatalog() []domain.PlanLimits {
	return []domain.PlanLimits{
		{
			PlanType:             PlanFree,
			MaxStorageBytes:      1 * gib,
			MaxFiles:             20,
			MaxFileSizeBytes:     50 * mib,
			MaxTokensPerMonth:    100_000,
			MaxQuestionsPerMonth: 100,
		},
		{
			PlanType:             PlanPro,
			MaxStorageBytes:      20 * gib,
			MaxFiles:             domain.Unlimited,
			MaxFileSizeBytes:     200 * mib,
			MaxTokensPerMonth:    2_000_000,
			MaxQuestionsPerMonth: 2_000,
		},
		{
			PlanType:             PlanTeam,
			MaxStorageBytes:      100 * gib,
			MaxFiles:             domain.Unlimited,
			MaxFileSizeBytes:     200 * mib,
			MaxTokensPerMonth:    10_000_000,
			MaxQuestionsPerMonth: 10_000,
		},
	}
}

func catalogLimits(planType string) (domain.PlanLimits, bool) {
	for _, l := range DefaultCatalog() {
		if l.PlanType == planType {
			return l, true
		}
	}
	return domain.PlanLimits{}, false
}
