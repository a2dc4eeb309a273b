// Package convo holds the per-call conversation state: the system prompt
// built from the knowledge snapshot, the greeting, the rolling message
// history fed to the model, the quick-reply lexicon, and goodbye detection.
package convo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/centralino-ai/centralino/internal/knowledge"
)

// italianAlphabet is the spelling alphabet used to dictate codes over the
// phone ("S come Savona").
var italianAlphabet = map[rune]string{
	'A': "Ancona", 'B': "Bologna", 'C': "Como", 'D': "Domodossola",
	'E': "Empoli", 'F': "Firenze", 'G': "Genova", 'H': "Hotel",
	'I': "Imola", 'J': "Jolly", 'K': "Kappa", 'L': "Livorno",
	'M': "Milano", 'N': "Napoli", 'O': "Otranto", 'P': "Palermo",
	'Q': "Quarto", 'R': "Roma", 'S': "Savona", 'T': "Torino",
	'U': "Udine", 'V': "Venezia", 'W': "Washington", 'X': "Xilofono",
	'Y': "Yogurt", 'Z': "Zara",
}

// SpellItalian renders text letter by letter with the Italian spelling
// alphabet; digits and unknown characters pass through unchanged.
func SpellItalian(text string) string {
	var parts []string
	for _, r := range strings.ToUpper(text) {
		if word, ok := italianAlphabet[r]; ok {
			parts = append(parts, fmt.Sprintf("%c come %s", r, word))
		} else {
			parts = append(parts, string(r))
		}
	}
	return strings.Join(parts, ", ")
}

// Greeting returns the fixed call-opening line. It is spoken before any
// caller input and recorded as turn 0 of the conversation.
func Greeting(snap *knowledge.Snapshot) string {
	first := snap.Identity.FirstName()
	if first == "" {
		first = "qui"
	}
	return fmt.Sprintf("Pronto. Sì, sono %s. Mi scusi, sono inglese e il mio italiano non è perfetto — parlo lentamente ma capisco bene. Mi dica pure.", first)
}

// BuildSystemPrompt renders the full system prompt from the knowledge
// snapshot. The prompt is fixed for the life of a call.
func BuildSystemPrompt(snap *knowledge.Snapshot) string {
	name := snap.Identity.Name
	if name == "" {
		name = "il proprietario"
	}
	first := snap.Identity.FirstName()
	if first == "" {
		first = "qui"
	}
	comune := snap.Location.Address.Comune
	if comune == "" {
		comune = "Italia"
	}

	spelled := "N/A"
	if snap.Identity.CodiceFiscale != "" {
		spelled = SpellItalian(snap.Identity.CodiceFiscale)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sei un assistente telefonico per %s, un inglese che vive a %s.\n\n", name, comune)

	b.WriteString(`## IL TUO RUOLO
Sei un assistente vocale gentile che risponde alle chiamate. Il proprietario capisce l'italiano scritto ma ha difficoltà con le conversazioni telefoniche. Tu fai da intermediario.

## APERTURA CHIAMATE
Rispondi SEMPRE così:
`)
	fmt.Fprintf(&b, "%q\n\n", Greeting(snap))

	fmt.Fprintf(&b, "## IDENTITÀ\n- Nome completo: %s\n- Codice fiscale: %s\n- Se devi sillabare il codice fiscale, usa l'alfabeto italiano:\n  %s\n\n",
		name, snap.Identity.CodiceFiscale, spelled)

	fmt.Fprintf(&b, "## INDIRIZZO\n- Indirizzo: %s\n- Varianti accettate: %s\n\n",
		snap.Location.Address.Full(), joinOr(firstN(snap.Location.AddressVariants, 3), "nessuna"))

	dir := snap.Location.Directions
	fromRoad := dir.FromMainRoad
	if fromRoad == "" {
		fromRoad = "Indicazioni non configurate."
	}
	houseDesc := dir.HouseDescription
	if houseDesc == "" {
		houseDesc = "non specificata"
	}
	fmt.Fprintf(&b, "## INDICAZIONI PER CORRIERI\n%s\nPunti di riferimento: %s\nDescrizione casa: %s\n\n",
		fromRoad, joinOr(dir.Landmarks, "nessuno"), houseDesc)

	fmt.Fprintf(&b, "## ACCOUNT E UTENZE\n%s\n\n", accountsSection(snap.Accounts))

	fmt.Fprintf(&b, "## INFORMAZIONI PER VERIFICHE IDENTITÀ\nSe chiedono di verificare la tua identità, puoi usare queste informazioni:\n%s\n\n",
		verificationSection(snap.Verification))

	fmt.Fprintf(&b, "## VICINI E CONSEGNE\n- Vicino di fiducia: %s\n- Posto sicuro per pacchi: %s\n\n",
		orDefault(snap.House.NeighbourName, "non specificato"),
		orDefault(snap.House.SafePlace, "non specificato"))

	fmt.Fprintf(&b, "## DISPONIBILITÀ\n- Giorni preferiti: %s\n- Orario preferito: %s\n\n",
		joinOr(snap.Preferences.AvailableDays, "tutti i giorni"),
		orDefault(snap.Preferences.PreferredTime, "mattina"))

	b.WriteString(`## REGOLE IMPORTANTI

### MAI fare:
- Dare dettagli bancari (IBAN, carte, PIN)
- Accettare contratti o modifiche contrattuali
- Confermare pagamenti o importi da pagare
- Dare il consenso per attivazioni o disattivazioni

Per questi argomenti, rispondi:
"Su questo punto preferisco far parlare direttamente il proprietario. Posso richiamarvi?"

### SEMPRE fare:
- Confermare appuntamenti per tecnici/installazioni
- Dare indicazioni stradali ai corrieri
- Confermare che sei il titolare dell'account
- Chiedere di ripetere se non capisci
- Essere cortese e paziente

### CHIAMATE COMMERCIALI (telemarketing):
Se è una chiamata commerciale o vendita:
"No grazie, non mi interessa. Arrivederci."
E termina la conversazione.

## FRASI UTILI
- Non ho capito: "Mi scusi, può ripetere?"
- Prendere tempo: "Un attimo, per favore." / "Un momento che verifico..."
- Confermare: "Quindi, se ho capito bene, [riassunto]. Giusto?"
- Passare al proprietario: "Un attimo, la passo al proprietario."
- Richiamare: "Devo verificare una cosa. Posso richiamare tra poco?"

## STILE
- Parla lentamente e chiaramente
- Usa frasi semplici
- Conferma sempre le informazioni importanti ripetendole
- Sii educato ma non eccessivamente formale
- Va bene fare pause — sei "inglese" quindi è normale

## BREVITÀ (MOLTO IMPORTANTE)
Rispondi SOLO in italiano. Le tue risposte devono essere MOLTO BREVI:
- Massimo 15-25 parole per risposta
- 1-2 frasi al massimo
- Mai ripetere informazioni già dette
- Mai spiegare troppo — questo è un telefono, non una email

Esempi di risposte corrette:
- "Sì, confermo. Giovedì alle 11."
- "Il PDR è 15104203586742."
- "Sì, sono io. Mi dica."

Rispondi SOLO in italiano. Le tue risposte devono essere BREVI e naturali per una conversazione telefonica (1-3 frasi al massimo).
`)

	return b.String()
}

func accountsSection(accounts map[string]knowledge.Account) string {
	if len(accounts) == 0 {
		return "Nessun account configurato."
	}
	keys := sortedKeys(accounts)
	var blocks []string
	for _, key := range keys {
		acc := accounts[key]
		provider := acc.Provider
		if provider == "" {
			provider = key
		}
		lines := []string{fmt.Sprintf("**%s** (%s)", provider, acc.Type)}
		for _, id := range []struct{ key, label string }{
			{"codice_cliente", "Codice cliente"},
			{"pod", "POD"},
			{"pdr", "PDR"},
			{"codice_utenza", "Codice utenza"},
		} {
			if v := acc.Identifiers[id.key]; v != "" {
				lines = append(lines, fmt.Sprintf("  - %s: %s", id.label, v))
			}
		}
		if phone := acc.Contact["phone"]; phone != "" {
			lines = append(lines, fmt.Sprintf("  - Servizio clienti: %s", phone))
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func verificationSection(verification map[string]knowledge.QA) string {
	if len(verification) == 0 {
		return "Nessuna informazione di verifica."
	}
	var lines []string
	for _, key := range sortedKeys(verification) {
		qa := verification[key]
		lines = append(lines, fmt.Sprintf("- %s: %s", qa.Question, qa.Answer))
	}
	return strings.Join(lines, "\n")
}

// sortedKeys keeps prompt rendering deterministic so the LLM prefix cache
// stays warm across turns.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func joinOr(s []string, fallback string) string {
	if len(s) == 0 {
		return fallback
	}
	return strings.Join(s, ", ")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
