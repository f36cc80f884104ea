package credential

// Tier is a named (rate_limit, rate_window) pair an admin can apply to a
// credential in one call instead of setting both fields directly.
type Tier struct {
	RateLimit  int
	RateWindow int
}

// Tiers is the closed set of named tiers recognised by the admin surface
// (spec.md §4.7).
var Tiers = map[string]Tier{
	"free":       {RateLimit: 10, RateWindow: 60},
	"pro":        {RateLimit: 120, RateWindow: 60},
	"enterprise": {RateLimit: 600, RateWindow: 60},
}
