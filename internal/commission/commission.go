// Package commission maps a provider's tier to the platform fee taken on
// release. Tiers are keyed by the provider's completed-job count; the fee is
// expressed in basis points and always rounded down to the cent so the
// provider share plus the fee reconstructs the price exactly.
package commission

// Tier is one bracket of the static commission table.
type Tier struct {
	Name    string
	MinJobs int
	FeeBps  int64
}

// Default tier table: newcomers pay the most, established providers the least.
var tiers = []Tier{
	{Name: "rookie", MinJobs: 0, FeeBps: 1500},
	{Name: "regular", MinJobs: 10, FeeBps: 1000},
	{Name: "pro", MinJobs: 50, FeeBps: 700},
	{Name: "elite", MinJobs: 200, FeeBps: 500},
}

// TierFor returns the tier matching a completed-job count.
func TierFor(completedJobs int) Tier {
	t := tiers[0]
	for _, cand := range tiers {
		if completedJobs >= cand.MinJobs {
			t = cand
		}
	}
	return t
}

// FeeBps returns the fee in basis points for a completed-job count.
func FeeBps(completedJobs int) int64 {
	return TierFor(completedJobs).FeeBps
}

// Fee computes the platform fee on priceCents at feeBps, rounding down.
func Fee(priceCents, feeBps int64) int64 {
	return priceCents * feeBps / 10000
}
