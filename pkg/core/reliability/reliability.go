package reliability

// MaxStrikes is the no-show count at which a worker is suspended
const MaxStrikes = 3

// Tier is a worker's reliability band, derived from the claim/completion counters
type Tier string

const (
	TierElite     Tier = "elite"
	TierTrusted   Tier = "trusted"
	TierStandard  Tier = "standard"
	TierProbation Tier = "probation"
)

// threshold is one row of the tier table, checked top to bottom
type threshold struct {
	tier           Tier
	minCompleted   int
	minReliability float64
}

var tierTable = []threshold{
	{tier: TierElite, minCompleted: 100, minReliability: 0.9},
	{tier: TierTrusted, minCompleted: 25, minReliability: 0.8},
}

// probationMinClaims avoids putting brand new workers on probation after one bad job
const (
	probationMinClaims   = 5
	probationReliability = 0.5
)

// Score is the read model of a worker's reliability
type Score struct {
	JobsClaimed   int     `json:"jobs_claimed"`
	JobsCompleted int     `json:"jobs_completed"`
	Reliability   float64 `json:"reliability"`
	Tier          Tier    `json:"tier"`
	Strikes       int     `json:"no_show_strikes"`
	Suspended     bool    `json:"suspended"`
}

// Reliability returns completed/claimed, or 1.0 for a worker with no claims
func Reliability(completed, claimed int) float64 {
	if claimed <= 0 {
		return 1.0
	}
	r := float64(completed) / float64(claimed)
	if r > 1 {
		return 1
	}
	return r
}

// TierFor derives the tier from the two counters
func TierFor(completed, claimed int) Tier {
	r := Reliability(completed, claimed)
	for _, th := range tierTable {
		if completed >= th.minCompleted && r >= th.minReliability {
			return th.tier
		}
	}
	if claimed >= probationMinClaims && r < probationReliability {
		return TierProbation
	}
	return TierStandard
}

// IsSuspended reports whether the strike count blocks claims and bids
func IsSuspended(strikes int) bool {
	return strikes >= MaxStrikes
}

// Compute builds the full score for a worker
func Compute(completed, claimed, strikes int) Score {
	return Score{
		JobsClaimed:   claimed,
		JobsCompleted: completed,
		Reliability:   Reliability(completed, claimed),
		Tier:          TierFor(completed, claimed),
		Strikes:       strikes,
		Suspended:     IsSuspended(strikes),
	}
}
