// Package entities contains the core domain objects for the water-balance application
package entities

import (
	"time"
)

// WaterBalanceQuery identifies one water-balance report
type WaterBalanceQuery struct {
	GroupName string `json:"groupName"` // Metering group the report is computed for
	StatDate  string `json:"statDate"`  // Statistics date as understood by the backend
}

// WaterBalanceItem is a single node of the hierarchical report returned by the backend.
// Children arrive pre-nested; Pid is informational only.
type WaterBalanceItem struct {
	ID          string             `json:"id"`
	Pid         *string            `json:"pid"`
	Name        string             `json:"name"`
	WaterVolume float64            `json:"waterVolume"` // Sizing value for the treemap
	WaterAmount float64            `json:"waterAmount"`
	Path        string             `json:"path"` // Precomputed hierarchical label
	Children    []WaterBalanceItem `json:"children"`
}

// WaterBalanceResponse is the envelope returned by the waterBalance function
type WaterBalanceResponse struct {
	Data    []WaterBalanceItem `json:"data"`
	Success bool               `json:"success"`
}

// ItemStyle carries per-node styling for the chart widget
type ItemStyle struct {
	Color string `json:"color,omitempty"`
}

// WaterBalanceTreeNode is a treemap node as consumed by the chart widget.
// Children is nil when the source item had no children, so the field is omitted.
type WaterBalanceTreeNode struct {
	Name      string                  `json:"name"`
	Value     float64                 `json:"value"`
	Path      string                  `json:"path,omitempty"`
	Children  []*WaterBalanceTreeNode `json:"children,omitempty"`
	ItemStyle *ItemStyle              `json:"itemStyle,omitempty"`
}

// WaterBalanceTreeData is the synthetic root handed to the chart widget
type WaterBalanceTreeData struct {
	Name     string                  `json:"name"`
	Children []*WaterBalanceTreeNode `json:"children"`
}

// Snapshot is a cached water-balance response for one group and date, as
// seen by Owner ("anon" or a user ID)
type Snapshot struct {
	ID        int64
	Owner     string
	GroupName string
	StatDate  string
	Response  WaterBalanceResponse
	FetchedAt time.Time
}
