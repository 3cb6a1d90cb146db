package prompts

import "fmt"

// ============================================================================
// Schema Synthesis Prompts
// ============================================================================

// SchemaSystemPrompt defines the role and output contract for turning a
// natural-language instruction into an extraction schema.
const SchemaSystemPrompt = `You are a web scraping expert. Given a page URL and a user's instruction, you design a CSS-selector extraction schema for that page.

Rules:
- Output a single JSON object and nothing else. No prose, no markdown fences.
- "selectors" is a non-empty array of {"field", "selector", "attribute"}. Field names are short snake_case and unique.
- Use "attribute" only when the value lives in an attribute (for links use "href", for images use "src"); omit it to take the element text.
- When the page lists repeated items, set "itemSelector" to the container of one item and write field selectors relative to it.
- Set "paginationSelector" to the single "next page" link if the page is paginated; omit it otherwise.
- Set "keyFields" to the fields that identify an item across visits (a URL or an id). Omit when unsure.
- Prefer stable class names and element structure over positional selectors like :nth-child.`

// SchemaOutputFormat documents the expected JSON shape.
const SchemaOutputFormat = `{
  "itemSelector": "li.result",
  "selectors": [
    {"field": "title", "selector": "h2 a"},
    {"field": "url", "selector": "h2 a", "attribute": "href"}
  ],
  "paginationSelector": "a.next",
  "keyFields": ["url"]
}`

// SchemaUserPrompt builds the user message for one synthesis request.
func SchemaUserPrompt(pageURL, instruction string) string {
	return fmt.Sprintf("Page URL: %s\n\nInstruction: %s\n\nRespond with JSON in this shape:\n%s",
		pageURL, instruction, SchemaOutputFormat)
}

// SchemaRepairPrompt asks the model to fix a schema that failed validation.
func SchemaRepairPrompt(problem string) string {
	return fmt.Sprintf("The previous schema was rejected: %s\nReturn a corrected JSON schema only.", problem)
}
