package convo

import (
	"strings"
	"sync"

	"github.com/centralino-ai/centralino/internal/knowledge"
	"github.com/centralino-ai/centralino/pkg/provider/llm"
)

// StallPhrase is spoken when the reply generator fails; it keeps the caller
// on the line without committing to anything.
const StallPhrase = "Mi scusi, un momento per favore."

// quickReplies maps normalized trivial caller inputs to canned replies,
// bypassing the model entirely. Keys must be pre-normalized.
var quickReplies = map[string]string{
	// greetings
	"pronto":     "Pronto. Sì, sono qui. Mi dica.",
	"buongiorno": "Buongiorno. Mi dica pure.",
	"buonasera":  "Buonasera. Mi dica pure.",

	// confirmations
	"ok":        "Perfetto.",
	"va bene":   "Perfetto, grazie.",
	"d'accordo": "Perfetto.",

	// thanks
	"grazie":       "Prego.",
	"grazie mille": "Prego, grazie a lei.",

	// goodbyes
	"arrivederci": "Arrivederci.",
	"ciao":        "Arrivederci.",
}

// goodbyePhrases end the call when they appear in an AI reply
// (case-insensitive substring match).
var goodbyePhrases = []string{
	"arrivederci",
	"buona giornata",
	"buonasera",
	"a presto",
	"buon proseguimento",
	"alla prossima",
}

// QuickReply returns the canned reply for trivial inputs, or "" and false
// when the model is needed. Matching trims whitespace, lowercases, and
// strips trailing punctuation only; anything longer than the lexicon keys
// falls through to the model.
func QuickReply(text string) (string, bool) {
	normalized := strings.TrimRight(strings.ToLower(strings.TrimSpace(text)), ".,!?")
	reply, ok := quickReplies[normalized]
	return reply, ok
}

// ContainsGoodbye reports whether reply contains a terminal phrase.
func ContainsGoodbye(reply string) bool {
	lower := strings.ToLower(reply)
	for _, phrase := range goodbyePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Conversation is the per-call dialogue state. The system prompt and
// greeting are fixed at construction; history grows as turns complete.
//
// Methods are safe for concurrent use, though in practice the per-call
// pipeline is the only writer.
type Conversation struct {
	systemPrompt string
	greeting     string
	contextTurns int

	mu      sync.Mutex
	history []llm.Message
}

// New builds the conversation for one call from the knowledge snapshot.
// The greeting is inserted as the first assistant message so the model
// never re-greets. contextTurns bounds the history tail fed to the model.
func New(snap *knowledge.Snapshot, contextTurns int) *Conversation {
	if contextTurns < 1 {
		contextTurns = 1
	}
	greeting := Greeting(snap)
	return &Conversation{
		systemPrompt: BuildSystemPrompt(snap),
		greeting:     greeting,
		contextTurns: contextTurns,
		history:      []llm.Message{{Role: llm.RoleAssistant, Content: greeting}},
	}
}

// SystemPrompt returns the immutable system prompt for this call.
func (c *Conversation) SystemPrompt() string { return c.systemPrompt }

// Greeting returns the precomputed opening line.
func (c *Conversation) Greeting() string { return c.greeting }

// AddCaller appends a caller message to the history.
func (c *Conversation) AddCaller(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, llm.Message{Role: llm.RoleUser, Content: text})
}

// AddAssistant appends an AI reply to the history. TTS failures do not
// remove the entry: the model must believe it said what it said.
func (c *Conversation) AddAssistant(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, llm.Message{Role: llm.RoleAssistant, Content: text})
}

// Tail returns the most recent 2·contextTurns messages, oldest first.
// The returned slice is a copy.
func (c *Conversation) Tail() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 2 * c.contextTurns
	start := len(c.history) - n
	if start < 0 {
		start = 0
	}
	tail := make([]llm.Message, len(c.history)-start)
	copy(tail, c.history[start:])
	return tail
}

// History returns a copy of the full message history.
func (c *Conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Len returns the number of messages in the history.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}
