package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// DefaultNodeID is used when New is called before Init.
const DefaultNodeID = 1

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID. Only the first
// call takes effect.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm.
// IDs are time-ordered and unique across distributed instances.
func New() int64 {
	_ = Init(DefaultNodeID)
	return node.Generate().Int64()
}
