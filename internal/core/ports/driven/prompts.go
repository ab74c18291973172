package driven

// PromptStore provides the prompt templates used for grounded answers.
type PromptStore interface {
	// Load returns the template for name, or the built-in default when
	// no usable custom template exists.
	Load(name string) (string, error)
}

// Prompt names.
const (
	// PromptGroundingSystem is the fixed system instruction for grounded answers.
	// It tells the model to finish with a WALLETS=[...] marker line.
	PromptGroundingSystem = "grounding_system"

	// PromptGroundingContext wraps the question and the retrieved excerpts.
	// The template expects two %s placeholders: the question, then the
	// excerpts grouped by owner.
	PromptGroundingContext = "grounding_context"
)

// PromptStoreAware is implemented by services whose prompts can be customised.
type PromptStoreAware interface {
	// SetPromptStore replaces the built-in prompts.
	SetPromptStore(store PromptStore)
}
