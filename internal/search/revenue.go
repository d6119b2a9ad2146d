package search

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	revenueLow  = 0.7
	revenueHigh = 1.3
)

// RevenueText formats the potential revenue of count prospects at
// avgTicket as a low-high range, e.g. "8,400 - 15,600 EUR". It returns ""
// when there is nothing to sell to.
func RevenueText(count int, avgTicket float64, currency, locale string) string {
	if count <= 0 || avgTicket <= 0 {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag)
	total := float64(count) * avgTicket
	low := int64(math.Round(total * revenueLow))
	high := int64(math.Round(total * revenueHigh))
	return p.Sprintf("%d - %d %s", low, high, currency)
}
