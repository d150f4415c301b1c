package treemap

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/abelzeko/water-balance/internal/entities"
)

// Debug writes an indented depth-first listing of tree to w followed by the
// total node count, and returns that count. The tree is not modified.
func Debug(w io.Writer, tree *entities.WaterBalanceTreeData) int {
	fmt.Fprintln(w, "=== treemap data ===")
	fmt.Fprintf(w, "root: %s\n", tree.Name)
	fmt.Fprintf(w, "top-level nodes: %d\n", len(tree.Children))

	for i, child := range tree.Children {
		fmt.Fprintf(w, "\ntop-level node %d:\n", i+1)
		printNode(w, child, 0)
	}

	total := CountNodes(tree)
	fmt.Fprintf(w, "\ntotal nodes: %d\n", total)
	fmt.Fprintln(w, "=== end ===")
	return total
}

func printNode(w io.Writer, node *entities.WaterBalanceTreeNode, level int) {
	indent := strings.Repeat("  ", level)
	fmt.Fprintf(w, "%s- %s (value: %s, path: %s)\n", indent, node.Name, FormatValue(node.Value), node.Path)

	if len(node.Children) > 0 {
		fmt.Fprintf(w, "%s  contains %d children:\n", indent, len(node.Children))
		for _, child := range node.Children {
			printNode(w, child, level+1)
		}
	}
}

// CountNodes returns the number of real nodes under tree. The synthetic root
// itself is not counted.
func CountNodes(tree *entities.WaterBalanceTreeData) int {
	total := 0
	for _, child := range tree.Children {
		total += countNode(child)
	}
	return total
}

func countNode(node *entities.WaterBalanceTreeNode) int {
	count := 1
	for _, child := range node.Children {
		count += countNode(child)
	}
	return count
}

// FormatValue renders a node value without trailing zeros.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
