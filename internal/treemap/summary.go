package treemap

import (
	"github.com/shopspring/decimal"

	"github.com/abelzeko/water-balance/internal/entities"
)

// Imbalance records a node whose value differs from the sum of its children.
type Imbalance struct {
	Name        string
	Path        string
	Value       decimal.Decimal
	ChildrenSum decimal.Decimal
}

// Difference is the node value minus the sum of its children.
func (i Imbalance) Difference() decimal.Decimal {
	return i.Value.Sub(i.ChildrenSum)
}

// Summary holds aggregate figures for a converted tree.
type Summary struct {
	Nodes       int
	Depth       int
	TotalVolume decimal.Decimal // Sum over top-level nodes
	Imbalances  []Imbalance
}

// Summarize walks tree and computes its Summary. Volumes are summed as
// decimals so that totals match what the backend reports.
func Summarize(tree *entities.WaterBalanceTreeData) Summary {
	s := Summary{TotalVolume: decimal.Zero}
	for _, child := range tree.Children {
		s.TotalVolume = s.TotalVolume.Add(decimal.NewFromFloat(child.Value))
		s.walk(child, 1)
	}
	return s
}

func (s *Summary) walk(node *entities.WaterBalanceTreeNode, depth int) {
	s.Nodes++
	if depth > s.Depth {
		s.Depth = depth
	}
	if len(node.Children) == 0 {
		return
	}

	sum := decimal.Zero
	for _, child := range node.Children {
		sum = sum.Add(decimal.NewFromFloat(child.Value))
		s.walk(child, depth+1)
	}

	value := decimal.NewFromFloat(node.Value)
	if !value.Equal(sum) {
		s.Imbalances = append(s.Imbalances, Imbalance{
			Name:        node.Name,
			Path:        node.Path,
			Value:       value,
			ChildrenSum: sum,
		})
	}
}
