// Package suggest derives the next set of suggested prompts for the chat
// widget from the questions a guest has already asked. Pure functions, no
// I/O.
package suggest

// Milestone questions unlock deeper suggestion sets once asked.
const (
	MilestoneServices = "What services do you offer?"
	MilestonePricing  = "How much does a typical project cost?"
)

var baseSet = []string{
	MilestoneServices,
	"How do you usually work with clients?",
	"Can you show me some past projects?",
	"I'd like to talk to your team",
}

var servicesFollowUps = []string{
	MilestonePricing,
	"Do you build mobile apps?",
	"Can you take over an existing codebase?",
}

var pricingFollowUps = []string{
	"How long does a typical project take?",
	"Do you offer ongoing support after launch?",
}

// Next returns the suggestions still available to the guest. The base set is
// always offered; asking the services milestone unlocks the follow-up set and
// the pricing milestone unlocks a third. Anything already asked is filtered
// out. Deterministic for a given input.
func Next(questionsAsked []string) []string {
	asked := make(map[string]bool, len(questionsAsked))
	for _, q := range questionsAsked {
		asked[q] = true
	}

	pool := make([]string, 0, len(baseSet)+len(servicesFollowUps)+len(pricingFollowUps))
	pool = append(pool, baseSet...)
	if asked[MilestoneServices] {
		pool = append(pool, servicesFollowUps...)
	}
	if asked[MilestonePricing] {
		pool = append(pool, pricingFollowUps...)
	}

	out := make([]string, 0, len(pool))
	for _, s := range pool {
		if !asked[s] {
			out = append(out, s)
		}
	}
	return out
}
