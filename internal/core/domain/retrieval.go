package domain

// RetrievalGroup maps owner IDs to the texts retrieved for them.
// Owners keep the order of their best hit; texts keep rank order.
// Owners with no hits are absent. It is built per query and never persisted.
type RetrievalGroup struct {
	owners []string
	texts  map[string][]string
}

// NewRetrievalGroup creates an empty group.
func NewRetrievalGroup() *RetrievalGroup {
	return &RetrievalGroup{texts: make(map[string][]string)}
}

// Add appends text to owner's list, registering the owner on first use.
func (g *RetrievalGroup) Add(owner, text string) {
	if g.texts == nil {
		g.texts = make(map[string][]string)
	}
	if _, ok := g.texts[owner]; !ok {
		g.owners = append(g.owners, owner)
	}
	g.texts[owner] = append(g.texts[owner], text)
}

// Owners returns owners in order of first appearance.
func (g *RetrievalGroup) Owners() []string {
	if g == nil {
		return nil
	}
	out := make([]string, len(g.owners))
	copy(out, g.owners)
	return out
}

// Texts returns the ranked texts for owner, or nil if the owner had no hits.
func (g *RetrievalGroup) Texts(owner string) []string {
	if g == nil {
		return nil
	}
	return g.texts[owner]
}

// Len returns the number of owners.
func (g *RetrievalGroup) Len() int {
	if g == nil {
		return 0
	}
	return len(g.owners)
}

// Map returns a copy of the owner to texts mapping.
func (g *RetrievalGroup) Map() map[string][]string {
	out := make(map[string][]string, g.Len())
	if g == nil {
		return out
	}
	for owner, texts := range g.texts {
		out[owner] = append([]string(nil), texts...)
	}
	return out
}

// Answer is a grounded reply to a citizen's question.
type Answer struct {
	// Reply is the model's text with the marker line removed.
	Reply string

	// Owners lists the wallets the model matched; never nil.
	Owners []string

	// Group is the retrieval context the prompt was built from.
	Group *RetrievalGroup
}
