package llm

// Message roles in a conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in the conversation history.
type Message struct {
	// Role is RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit. Quick-reply turns that bypass the model carry
// a zero Usage.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request carries everything the model needs to produce a reply.
type Request struct {
	// SystemPrompt is the high-priority instruction injected before the
	// history. Fixed for the life of a call.
	SystemPrompt string

	// Messages is the rolling history tail, oldest first. The last entry
	// is the caller message that drives the reply.
	Messages []Message

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64
}

// Response is the model's reply.
type Response struct {
	// Content is the full reply text.
	Content string

	// Usage is the token accounting for this request/response pair.
	Usage Usage
}
