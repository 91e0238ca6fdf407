package agent

import (
	"fmt"

	"github.com/quantumflow/supportflow/internal/models"
)

// routeFor returns the advisory handler for a category
func routeFor(category models.Category) string {
	switch category {
	case models.CategoryCompliance:
		return ComplianceHandler
	case models.CategoryDemo:
		return DemoHandler
	case models.CategoryTechnical, models.CategoryBilling, models.CategoryGeneral:
		return KnowledgeHandler
	default:
		panic(fmt.Sprintf("agent: unhandled category %q", category))
	}
}

// fallbackResponse is the customer-facing text when no grounded answer exists
func fallbackResponse(category models.Category) string {
	switch category {
	case models.CategoryTechnical:
		return "I couldn't find documentation that covers this technical issue. A support engineer will look into it."
	case models.CategoryCompliance:
		return "Compliance questions need a careful answer, so I'm handing this to our compliance team."
	case models.CategoryBilling:
		return "I couldn't find an answer to this billing question. Our billing team will follow up."
	case models.CategoryDemo:
		return "I couldn't find scheduling details for this request. Someone from our sales team will reach out to set up a demo."
	case models.CategoryGeneral:
		return "I couldn't find relevant information for your question. A member of our support team will follow up."
	default:
		panic(fmt.Sprintf("agent: unhandled category %q", category))
	}
}

// EscalationTeam names the human team that owns escalations for a category
func EscalationTeam(category models.Category) string {
	switch category {
	case models.CategoryTechnical:
		return "technical support"
	case models.CategoryCompliance:
		return "compliance"
	case models.CategoryBilling:
		return "billing"
	case models.CategoryDemo:
		return "sales"
	case models.CategoryGeneral:
		return "customer support"
	default:
		panic(fmt.Sprintf("agent: unhandled category %q", category))
	}
}

func acknowledgement(c *models.Classification, estimate string) string {
	return fmt.Sprintf("Thanks for reaching out! I've logged this as a %s request (%s urgency). Expected response time: %s.",
		c.Category, c.Urgency, estimate)
}
