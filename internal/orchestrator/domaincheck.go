package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"shopassist/internal/flow"
	"shopassist/internal/metrics"
)

// askingRe marks a message as a purchase inquiry. Only inquiries are
// eligible for a domain redirect; mentioning an off-catalog thing in
// passing is not.
var askingRe = regexp.MustCompile(`(?i)\b(do you (sell|have|stock|carry)|can i (buy|get|order)|are there any|i('m| am) looking for|i (need|want))\b`)

// compareRe exempts comparisons. "Is this laptop better than a tablet"
// is a catalog question even though tablets aren't stocked.
var compareRe = regexp.MustCompile(`(?i)\b(than|versus|vs\.?|compared (to|with))\b`)

// offCatalogTerms are things shoppers commonly ask a general storefront
// for that this one does not carry.
var offCatalogTerms = []string{
	"food", "grocery", "groceries", "snacks", "drinks",
	"pet", "dog", "cat",
	"medicine", "pharmacy", "vitamins",
	"car", "cars", "motorbike", "fuel", "gasoline",
	"insurance", "flight", "flights", "hotel", "hotels",
	"tickets", "concert",
}

// DomainCheck decides whether a user message asks for merchandise the
// store does not sell, and produces the canned redirect when it does.
type DomainCheck struct {
	vocab *flow.Vocabulary
}

func NewDomainCheck(vocab *flow.Vocabulary) *DomainCheck {
	return &DomainCheck{vocab: vocab}
}

// Check returns a redirect reply and true when the message is an
// off-catalog purchase inquiry. Messages that mention any stocked
// category, or that compare against one, pass through.
func (d *DomainCheck) Check(text string) (string, bool) {
	if !askingRe.MatchString(text) || compareRe.MatchString(text) {
		return "", false
	}
	if _, ok := d.vocab.Match(text); ok {
		return "", false
	}

	lower := strings.ToLower(text)
	for _, term := range offCatalogTerms {
		if containsWord(lower, term) {
			metrics.DomainRedirects.Inc()
			return d.redirectMessage(), true
		}
	}
	return "", false
}

func (d *DomainCheck) redirectMessage() string {
	names := d.vocab.CategoryNames()
	return fmt.Sprintf(
		"We don't carry that here, but I'd love to help you shop what we do have: %s. Anything catch your eye?",
		strings.Join(names, ", "),
	)
}

func containsWord(lower, term string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		beforeOK := start == 0 || !isWordByte(lower[start-1])
		afterOK := end == len(lower) || !isWordByte(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
