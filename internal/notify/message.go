package notify

import (
	"fmt"
	"net/url"
	"strings"
)

func (a Alert) subject() string {
	return fmt.Sprintf("Flight Alert: %s → %s for %s %.2f",
		a.Origin, a.Destination, a.Offer.Currency, a.Offer.Price)
}

// deepLink points at a generic flight-search page for the route and date.
func (a Alert) deepLink() string {
	q := fmt.Sprintf("%s to %s %s", a.Origin, a.Destination, a.TravelDate)
	return "https://www.google.com/flights?q=" + url.QueryEscape(q)
}

func (a Alert) plainText() string {
	return fmt.Sprintf(`FareWatch Alert - Price Target Hit!

Route: %s → %s
Price: %s %.2f (Target: %s %.2f)
Airlines: %s
Duration: %s
Stops: %d
Passengers: %d
Date: %s

Book now: %s
`,
		a.Origin, a.Destination,
		a.Offer.Currency, a.Offer.Price, a.Offer.Currency, a.PriceTarget,
		a.Offer.Airlines, a.Offer.Duration, a.Offer.Stops, a.Pax, a.TravelDate,
		a.deepLink())
}

func (a Alert) html() string {
	var b strings.Builder
	b.WriteString(`<html><body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">`)
	b.WriteString(`<h1>FareWatch Alert</h1>`)
	b.WriteString(`<h2>Price Target Hit!</h2>`)
	fmt.Fprintf(&b, `<p><strong>%s → %s</strong></p>`, a.Origin, a.Destination)
	fmt.Fprintf(&b, `<p style="font-size: 28px;">%s %.2f</p>`, a.Offer.Currency, a.Offer.Price)
	fmt.Fprintf(&b, `<p>Target: %s %.2f</p>`, a.Offer.Currency, a.PriceTarget)
	fmt.Fprintf(&b, `<p>Airlines: %s<br>Duration: %s<br>Stops: %d<br>Passengers: %d<br>Date: %s</p>`,
		a.Offer.Airlines, a.Offer.Duration, a.Offer.Stops, a.Pax, a.TravelDate)
	fmt.Fprintf(&b, `<p><a href="%s">Book Now</a></p>`, a.deepLink())
	b.WriteString(`</body></html>`)
	return b.String()
}

// telegramText uses the bot API's Markdown parse mode.
func (a Alert) telegramText() string {
	return fmt.Sprintf(`*Flight Alert - Price Target Hit!*

*%s → %s*

*Price:* %s %.2f
*Your Target:* %s %.2f
*Airlines:* %s
*Duration:* %s
*Stops:* %d
*Passengers:* %d
*Date:* %s

[Book now](%s)`,
		a.Origin, a.Destination,
		a.Offer.Currency, a.Offer.Price, a.Offer.Currency, a.PriceTarget,
		a.Offer.Airlines, a.Offer.Duration, a.Offer.Stops, a.Pax, a.TravelDate,
		a.deepLink())
}
