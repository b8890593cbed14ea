package domain

// Summary is the fixed-shape aggregate cached on every Import.
type Summary struct {
	ActivityCount ActivityCounts `json:"activity_count"`
	ProspectCount int            `json:"prospect_count"`
	WonCount      int            `json:"won_count"`
	WonRevenue    float64        `json:"won_revenue"`
}

// Summarize folds a snapshot. Archived activities do not count towards the live totals.
func Summarize(snap Snapshot) Summary {
	var summary Summary
	for _, activity := range snap.Activities {
		summary.ActivityCount.Add(activity.Type, 1)
	}
	summary.ProspectCount = len(snap.Prospects)

	var revenue float64
	for _, prospect := range snap.Prospects {
		if prospect.Stage != StageWon {
			continue
		}
		summary.WonCount++
		revenue += prospect.DealValue
	}
	summary.WonRevenue = roundCents(revenue)
	return summary
}

// WonRevenue folds stored prospect rows the same way Summarize folds a snapshot.
func WonRevenue(prospects []Prospect) float64 {
	var revenue float64
	for _, prospect := range prospects {
		if prospect.Stage == StageWon {
			revenue += prospect.DealValue
		}
	}
	return roundCents(revenue)
}
