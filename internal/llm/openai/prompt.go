package openai

import (
	"fmt"

	"loancheck-backend/internal/llm"
)

// Message represents an OpenAI chat message.
type Message struct {
	Role    string
	Content string
}

const systemPrompt = "You are a loan document fraud analysis engine. Respond with JSON only. " +
	"No markdown. Never omit keys. Output must match the schema exactly."

const schemaPrompt = `Return a JSON object with exactly these keys:
{
  "riskLevel": "low" | "medium" | "high",
  "confidence": number between 0 and 100,
  "issues": array of short strings describing concrete problems found (empty if none),
  "details": one-paragraph string summary,
  "extractedData": object with the fields requested for this document type (omit fields not present in the text)
}`

// BuildPrompt creates the chat messages for a document analysis request.
func BuildPrompt(input llm.AnalyzeInput) []Message {
	developer := schemaPrompt + "\n\n" + llm.DocTypeContext(input.DocumentType)
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "developer", Content: developer},
		{Role: "user", Content: buildUserPrompt(input)},
	}
}

func buildUserPrompt(input llm.AnalyzeInput) string {
	return fmt.Sprintf("Document Type: %s\nFile Name: %s\n\nDocument Text:\n%s",
		input.DocumentType, input.FileName, input.DocumentText)
}
