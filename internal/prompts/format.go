package prompts

func init() {
	Default().Register(&Prompt{
		ID:          "format",
		Version:     V1,
		Content:     formatContent,
		Description: "Whole-document formatting to a citation standard",
	})
	Default().Register(&Prompt{
		ID:          "enhance",
		Version:     V1,
		Content:     enhanceContent,
		Description: "Free-form writing generation or enhancement",
	})
}

const formatContent = `Format the following document according to {{format_type}} standards:

Content:
{{content}}

Please return the formatted content with proper:
- Headings and structure
- Citations (if applicable)
- Spacing and margins
- Font formatting instructions

Return only the formatted content without explanations.`

const enhanceContent = `{{context}}Generate or enhance the following writing request:
{{prompt}}

Provide clear, well-structured content that flows naturally with any existing context.`

// RenderFormat renders the document-formatting prompt.
func RenderFormat(content, formatType string) (string, error) {
	return Default().Render("format", V1, map[string]string{
		"content":     content,
		"format_type": formatType,
	})
}

// RenderEnhance renders the writing-enhancement prompt. An empty context
// omits the context preamble.
func RenderEnhance(prompt, context string) (string, error) {
	ctx := ""
	if context != "" {
		ctx = "Context: " + context + "\n\n"
	}
	return Default().Render("enhance", V1, map[string]string{
		"context": ctx,
		"prompt":  prompt,
	})
}
