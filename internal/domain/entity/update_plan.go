package entity

// PlanEntry is one feed in an UpdatePlan together with the quote that
// triggered it.
type PlanEntry struct {
	FeedID string
	Symbol string
	Quote  PriceQuote
}

// UpdatePlan is one on-chain write for one network. Entries are ordered by
// ascending feed id. UpdateData holds the opaque blobs embedded in the
// transaction once they have been fetched for this plan.
type UpdatePlan struct {
	Network    string
	Sequence   int
	Entries    []PlanEntry
	UpdateData [][]byte
}

// FeedIDs returns the plan's feed ids in plan order.
func (p *UpdatePlan) FeedIDs() []string {
	ids := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		ids[i] = e.FeedID
	}
	return ids
}

// Len returns the number of feeds in the plan.
func (p *UpdatePlan) Len() int {
	return len(p.Entries)
}
