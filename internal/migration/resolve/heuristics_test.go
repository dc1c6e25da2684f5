package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbridge/internal/config"
	"ebbridge/internal/domain/mappings"
)

func TestHeuristicsDefaultRules(t *testing.T) {
	h, err := NewHeuristics(nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		number string
		label  string
		want   mappings.AccountClass
	}{
		{"bank by name", "10100", "rabobank lopende rekening", mappings.ClassBank},
		{"cash by name", "10000", "kas", mappings.ClassBank},
		{"vat", "15100", "btw hoog", mappings.ClassTax},
		{"receivable", "13000", "debiteuren", mappings.ClassReceivable},
		{"payable", "16000", "crediteuren", mappings.ClassPayable},
		{"income by number", "80100", "verkopen", mappings.ClassIncome},
		{"income by keyword", "30000", "contributie leden", mappings.ClassIncome},
		{"expense", "45000", "huur kantoor", mappings.ClassExpense},
		{"fixed asset", "02100", "inventaris", mappings.ClassFixedAsset},
		{"no match", "99999", "zzz", mappings.ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Suggest(0, tt.number, tt.label))
		})
	}
}

func TestHeuristicsRuleOrder(t *testing.T) {
	// "btw bank" matches both the bank and tax rules; first rule wins.
	h, err := NewHeuristics(nil)
	require.NoError(t, err)
	assert.Equal(t, mappings.ClassBank, h.Suggest(0, "15100", "btw bank"))
}

func TestHeuristicsCustomRules(t *testing.T) {
	h, err := NewHeuristics([]config.HeuristicRule{
		{Class: "stock", Expr: `code >= 3000 && code < 4000`},
	})
	require.NoError(t, err)

	assert.Equal(t, mappings.ClassStock, h.Suggest(3100, "", ""))
	assert.Equal(t, mappings.ClassOther, h.Suggest(4100, "", ""))
}

func TestHeuristicsCompileError(t *testing.T) {
	_, err := NewHeuristics([]config.HeuristicRule{
		{Class: "bank", Expr: `name.contains(`},
	})
	assert.Error(t, err)
}
