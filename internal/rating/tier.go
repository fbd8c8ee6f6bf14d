package rating

// Tier is the display bracket of a rating.
type Tier string

var tiers = []struct {
	min  int
	tier Tier
}{
	{2400, "Universal"},
	{2000, "Celestia"},
	{1800, "Galactic"},
	{1600, "Cosmic"},
	{1400, "Luminary"},
	{1200, "Stellar"},
	{1000, "Nova"},
}

const lowestTier Tier = "Nebula"

// TierFor looks up the bracket of rating.
func TierFor(rating int) Tier {
	for _, t := range tiers {
		if rating >= t.min {
			return t.tier
		}
	}
	return lowestTier
}
