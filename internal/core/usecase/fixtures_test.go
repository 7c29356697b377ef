package usecase

import (
	"testing"

	"github.com/Autopsias/raglite/internal/core/domain"
)

func sampleEntities() []domain.Entity {
	return []domain.Entity{
		{ID: "secil", CanonicalName: "Secil Group", Aliases: []string{"Secil", "Grupo Secil"}, Kind: domain.EntityGroup},
		{ID: "portugal", CanonicalName: "Portugal", Aliases: []string{"PT"}, ParentID: "secil", Kind: domain.EntityRegion},
		{ID: "tunisia", CanonicalName: "Tunisia", ParentID: "secil", Kind: domain.EntityRegion},
		{ID: "brazil", CanonicalName: "Brazil", Aliases: []string{"Brasil"}, ParentID: "secil", Kind: domain.EntityRegion},
		{ID: "portugal-cement", CanonicalName: "Portugal Cement", Aliases: []string{"Cimento Portugal"}, ParentID: "portugal", Kind: domain.EntityBusinessUnit},
		{ID: "brazil-cement", CanonicalName: "Brazil Cement", ParentID: "brazil", Kind: domain.EntityBusinessUnit},
		{ID: "outao", CanonicalName: "Outão Plant", Aliases: []string{"Outão"}, ParentID: "portugal-cement", Kind: domain.EntityPlant},
		{ID: "maceira", CanonicalName: "Maceira Plant", ParentID: "portugal-cement", Kind: domain.EntityPlant},
	}
}

func sampleMetrics() []domain.Metric {
	return []domain.Metric{
		{Name: "Variable Cost", Aliases: []string{"variable costs", "custo variavel"}, Kind: domain.MetricCost, Unit: "EUR/t"},
		{Name: "Fixed Cost", Aliases: []string{"fixed costs"}, Kind: domain.MetricCost, Unit: "EUR/t"},
		{Name: "Sales Volume", Aliases: []string{"sales volumes", "volume"}, Kind: domain.MetricVolume, Unit: "kt"},
		{Name: "Turnover", Aliases: []string{"revenue", "sales"}, Kind: domain.MetricRevenue, Unit: "EUR k"},
		{Name: "EBITDA", Kind: domain.MetricRevenue, Unit: "EUR k"},
		{Name: "EBITDA Margin", Kind: domain.MetricRatio, Unit: "%"},
	}
}

func newTestResolver(t *testing.T) *EntityResolver {
	t.Helper()
	r, err := NewEntityResolver(sampleEntities(), DefaultRetrievalPolicy())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func headerRow(texts ...string) []domain.Cell {
	row := make([]domain.Cell, len(texts))
	for i, text := range texts {
		row[i] = domain.Cell{Text: text, Header: true}
	}
	return row
}

func dataRow(texts ...string) []domain.Cell {
	row := make([]domain.Cell, len(texts))
	for i, text := range texts {
		row[i] = domain.Cell{Text: text}
	}
	return row
}
