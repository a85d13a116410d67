package catalog

import (
	"fmt"
)

// DefaultModel is used whenever a request names no model.
const DefaultModel = "meta-llama/llama-3.2-11b-vision-instruct"

// ModelDescriptor describes one selectable remote LLM.
type ModelDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (m ModelDescriptor) String() string {
	return fmt.Sprintf("%-42s %-16s %s", m.ID, m.Name, m.Description)
}

// Catalog is the fixed, ordered set of models offered in the
// selector.  It is built once during wiring and passed to whatever
// needs it; nothing modifies it afterwards.
type Catalog struct {
	models []ModelDescriptor
	byID   map[string]int
}

// New returns the standard catalog.
func New() (c *Catalog) {
	c = &Catalog{byID: make(map[string]int)}
	add := func(id, name, description string) {
		c.byID[id] = len(c.models)
		c.models = append(c.models, ModelDescriptor{
			ID:          id,
			Name:        name,
			Description: description,
		})
	}

	add(DefaultModel, "Llama 3.2 11B", "Balanced performance and speed")
	add("anthropic/claude-3-sonnet", "Claude 3 Sonnet", "High performance code assistant")
	add("gpt-4-turbo", "GPT-4 Turbo", "Powerful general-purpose model")
	add("gpt-3.5-turbo", "GPT-3.5 Turbo", "Fast and efficient")

	return
}

// Models returns a copy of the catalog in display order.
func (c *Catalog) Models() []ModelDescriptor {
	out := make([]ModelDescriptor, len(c.models))
	copy(out, c.models)
	return out
}

// Contains reports whether id is in the catalog.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Find returns the descriptor for id.  If id is empty, the default
// model is returned.
func (c *Catalog) Find(id string) (m ModelDescriptor, err error) {
	if id == "" {
		id = DefaultModel
	}
	i, ok := c.byID[id]
	if !ok {
		err = fmt.Errorf("model %q not found", id)
		return
	}
	m = c.models[i]
	return
}

// Default returns the descriptor of DefaultModel.
func (c *Catalog) Default() ModelDescriptor {
	m, _ := c.Find(DefaultModel)
	return m
}

// Resolve returns id if it is in the catalog, otherwise the default
// model id.
func (c *Catalog) Resolve(id string) string {
	if c.Contains(id) {
		return id
	}
	return DefaultModel
}

// SwitchMessage is the informational bot message shown after the
// user picks another model.
func SwitchMessage(m ModelDescriptor) string {
	return fmt.Sprintf("Switched to %s. %s", m.Name, m.Description)
}
