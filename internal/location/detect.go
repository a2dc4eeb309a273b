package location

import (
	"fmt"
	"strings"
)

// deliveryWords mark the caller as a courier or a delivery in progress.
var deliveryWords = []string{
	"corriere", "pacco", "pacchi", "consegna", "consegnare", "spedizione",
	"fattorino", "ritiro", "amazon", "bartolini", "brt", "gls", "dhl",
	"sda", "poste",
}

// directionWords mark the caller as asking where the address is.
var directionWords = []string{
	"dove", "indirizzo", "via", "arrivare", "arrivo", "trovare", "trovo",
	"posizione", "citofono", "civico", "campanello", "strada", "zona",
}

// DetectDelivery checks one caller transcript for a delivery asking for
// directions. It matches whole words only, so "inviare" does not trigger on
// "via". Detection needs either a delivery word plus a direction word, or
// two delivery words. Confidence grows with the match count.
func DetectDelivery(transcript string) (confidence float64, reason string, ok bool) {
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(transcript)) {
		words[strings.Trim(w, ".,;:!?'\"()")] = true
	}

	var matched []string
	delivery, direction := 0, 0
	for _, w := range deliveryWords {
		if words[w] {
			matched = append(matched, w)
			delivery++
		}
	}
	for _, w := range directionWords {
		if words[w] {
			matched = append(matched, w)
			direction++
		}
	}

	if delivery == 0 || (direction == 0 && delivery < 2) {
		return 0, "", false
	}

	confidence = 0.4 + 0.15*float64(len(matched))
	if confidence > 0.95 {
		confidence = 0.95
	}
	reason = fmt.Sprintf("Delivery detected (%s)", strings.Join(matched, ", "))
	return confidence, reason, true
}
