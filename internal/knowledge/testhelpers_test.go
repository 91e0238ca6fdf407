package knowledge

import (
	"testing"

	"github.com/quantumflow/supportflow/internal/models"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(BadgerConfig{InMemory: true}, NewSimpleEmbedding(256), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEntries() []*models.KnowledgeEntry {
	return []*models.KnowledgeEntry{
		{
			ID:            "kb-sso",
			Title:         "SSO login troubleshooting",
			Content:       "If SSO login fails with a SAML error, check that the identity provider certificate has not expired.",
			Category:      models.CategoryTechnical,
			Effectiveness: 0.5,
			Tags:          []string{"sso", "saml"},
		},
		{
			ID:            "kb-invoice",
			Title:         "Downloading invoices",
			Content:       "Invoices can be downloaded from the billing page in account settings.",
			Category:      models.CategoryBilling,
			Effectiveness: 0.5,
			Tags:          []string{"invoice"},
		},
		{
			ID:            "kb-gdpr",
			Title:         "GDPR data processing agreement",
			Content:       "Our data processing agreement covers GDPR obligations and can be signed online.",
			Category:      models.CategoryCompliance,
			Effectiveness: 0.5,
			Tags:          []string{"gdpr", "dpa"},
		},
	}
}
