package inference

import (
	"fmt"
	"strings"

	"github.com/quantumflow/supportflow/internal/models"
)

func buildClassificationPrompt(content string) string {
	return fmt.Sprintf(`You are the intake classifier for a customer support team.

Categories:
- technical: product bugs, errors, integrations, login or SSO problems
- compliance: security reviews, data protection, legal or regulatory questions
- billing: invoices, payments, plans, refunds
- demo: requests to see the product or schedule a demo
- general: anything else

Urgency levels: low, medium, high, critical

Customer message:
%s

Set requires_escalation to true when the request is too complex, risky or
sensitive to be answered from documentation.

Respond with ONLY a JSON object:
{
  "category": "technical|compliance|billing|demo|general",
  "urgency": "low|medium|high|critical",
  "confidence": 0.0-1.0,
  "key_topics": ["topic"],
  "requires_escalation": false
}

JSON Response:`, content)
}

func buildGenerationPrompt(query string, docs []models.ContextDocument) string {
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "Document %d (id: %s)\n", i+1, d.ID)
		fmt.Fprintf(&b, "Title: %s\n", d.Title)
		fmt.Fprintf(&b, "Category: %s\n", d.Category)
		if len(d.Tags) > 0 {
			fmt.Fprintf(&b, "Tags: %s\n", strings.Join(d.Tags, ", "))
		}
		if d.SourceURL != "" {
			fmt.Fprintf(&b, "Source: %s\n", d.SourceURL)
		}
		fmt.Fprintf(&b, "Content:\n%s\n\n", d.Content)
	}

	return fmt.Sprintf(`You are a customer support assistant. Answer the customer's question
using ONLY the documents below. If the documents do not contain the answer,
say so, give a low confidence and set requires_escalation to true.

%s
Customer question:
%s

Respond with ONLY a JSON object:
{
  "response": "answer for the customer",
  "confidence": 0.0-1.0,
  "sources_used": ["document id"],
  "requires_escalation": false
}

JSON Response:`, b.String(), query)
}
