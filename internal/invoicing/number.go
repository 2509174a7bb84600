package invoicing

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

const invoiceNumberPrefix = "INV-"

// NumberGenerator issues invoice numbers.
type NumberGenerator interface {
	Next() string
}

// SnowflakeNumbers derives invoice numbers from Snowflake IDs. IDs embed a
// millisecond timestamp and a per-millisecond sequence, so numbers from one
// node are unique and increase with time without any database lookup.
type SnowflakeNumbers struct {
	node *snowflake.Node
}

// NewSnowflakeNumbers builds a generator for nodeID (0-1023). Separate
// processes issuing invoices concurrently must use distinct node IDs.
func NewSnowflakeNumbers(nodeID int64) (*SnowflakeNumbers, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("invoicing: snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeNumbers{node: node}, nil
}

// Next returns a number like "INV-3G7K2W9QX1AB".
func (g *SnowflakeNumbers) Next() string {
	return invoiceNumberPrefix + strings.ToUpper(g.node.Generate().Base36())
}

var (
	defaultNumbersOnce sync.Once
	defaultNumbers     *SnowflakeNumbers
)

// GenerateInvoiceNumber uses a process-wide generator on node 1.
func GenerateInvoiceNumber() string {
	defaultNumbersOnce.Do(func() {
		// Node 1 is always in range, NewSnowflakeNumbers cannot fail here.
		defaultNumbers, _ = NewSnowflakeNumbers(1)
	})
	return defaultNumbers.Next()
}
