package treemap

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/abelzeko/water-balance/internal/entities"
)

const (
	// DefaultRootName labels the synthetic root when the report has zero or
	// several top-level items.
	DefaultRootName = "水平衡"

	// DefaultMaxDepth bounds recursion on malformed, self-referencing input.
	DefaultMaxDepth = 256
)

// ErrTreeTooDeep is returned when the input nests deeper than the converter's
// maximum depth, which in practice means the input contains a cycle.
var ErrTreeTooDeep = errors.New("water balance tree exceeds maximum depth")

// Option configures a Converter.
type Option func(*Converter)

// WithRootName overrides the label of the synthetic root.
func WithRootName(name string) Option {
	return func(c *Converter) { c.rootName = name }
}

// WithMaxDepth overrides the recursion limit. Values below 1 are ignored.
func WithMaxDepth(depth int) Option {
	return func(c *Converter) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithLogger sets the logger used to dump converted trees at debug level.
func WithLogger(l *log.Logger) Option {
	return func(c *Converter) { c.logger = l }
}

// Converter turns water-balance items into treemap data. Each Converter owns
// its color allocator; use one Converter per conversion flow.
type Converter struct {
	colors   Allocator
	rootName string
	maxDepth int
	logger   *log.Logger
}

// NewConverter creates a Converter with the given options applied.
func NewConverter(opts ...Option) *Converter {
	c := &Converter{
		rootName: DefaultRootName,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reset rewinds the converter's color allocator so the next conversion starts
// from the first palette color.
func (c *Converter) Reset() {
	c.colors.Reset()
}

// Convert builds the treemap structure for items.
//
// A single top-level item is wrapped once more: the result is named after that
// item and its only child is the converted item itself. Zero or several items
// are placed directly under a root labelled with the converter's root name.
// The chart widget relies on this shape.
func (c *Converter) Convert(items []entities.WaterBalanceItem) (*entities.WaterBalanceTreeData, error) {
	var result *entities.WaterBalanceTreeData
	if len(items) == 1 {
		root, err := c.convertNode(&items[0], 1)
		if err != nil {
			return nil, err
		}
		result = &entities.WaterBalanceTreeData{
			Name:     root.Name,
			Children: []*entities.WaterBalanceTreeNode{root},
		}
	} else {
		children := make([]*entities.WaterBalanceTreeNode, 0, len(items))
		for i := range items {
			node, err := c.convertNode(&items[i], 1)
			if err != nil {
				return nil, err
			}
			children = append(children, node)
		}
		result = &entities.WaterBalanceTreeData{
			Name:     c.rootName,
			Children: children,
		}
	}

	if c.logger != nil && c.logger.GetLevel() <= log.DebugLevel {
		if data, err := json.MarshalIndent(result, "", "  "); err == nil {
			c.logger.Debug("Converted treemap data", "nodes", CountNodes(result), "json", string(data))
		}
	}
	return result, nil
}

func (c *Converter) convertNode(item *entities.WaterBalanceItem, depth int) (*entities.WaterBalanceTreeNode, error) {
	if depth > c.maxDepth {
		return nil, fmt.Errorf("%w: node %q at depth %d", ErrTreeTooDeep, item.ID, depth)
	}

	node := &entities.WaterBalanceTreeNode{
		Name:      item.Name,
		Value:     item.WaterVolume,
		Path:      item.Path,
		ItemStyle: &entities.ItemStyle{Color: c.colors.Next()},
	}

	// Empty and missing children are treated alike: the field stays absent.
	if len(item.Children) > 0 {
		node.Children = make([]*entities.WaterBalanceTreeNode, 0, len(item.Children))
		for i := range item.Children {
			child, err := c.convertNode(&item.Children[i], depth+1)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
	}
	return node, nil
}
