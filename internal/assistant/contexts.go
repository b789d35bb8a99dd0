package assistant

import "fmt"

// UnknownContextError means the model asked for a context tag that is not in
// the table. The turn soft-fails to a reply with no extra context.
type UnknownContextError struct {
	Tag string
}

func (e *UnknownContextError) Error() string {
	return fmt.Sprintf("unknown context tag %q", e.Tag)
}

// contextTable is the fixed enumeration of static studio information blocks
// the model can inject into a reply prompt.
var contextTable = map[string]string{
	"services": "The studio designs and builds custom software: web applications, " +
		"mobile apps, API backends and data pipelines. It also takes over and " +
		"modernizes existing codebases, and offers ongoing maintenance retainers.",
	"pricing": "Projects are scoped fixed-price after a paid discovery week. " +
		"Typical builds range from 15k for a focused MVP to 120k+ for multi-platform " +
		"products. Retainers start at 3k/month.",
	"process": "Every engagement starts with a discovery week producing a scoped plan. " +
		"Delivery runs in two-week iterations with a demo at the end of each. " +
		"Clients get direct access to the engineers, not account managers.",
	"company": "The studio is a 12-person remote-first team founded in 2017, " +
		"working across Europe and North America. It has shipped over 80 products " +
		"for clients from seed-stage startups to listed companies.",
}

func lookupContext(tag string) (string, error) {
	text, ok := contextTable[tag]
	if !ok {
		return "", &UnknownContextError{Tag: tag}
	}
	return text, nil
}
