package mocks

import (
	"context"

	"github.com/ipnet-mesh/meshweb/nodes"
	"github.com/stretchr/testify/mock"
)

// NodeCache is a mock type for nodes.NodeCache
type NodeCache struct {
	mock.Mock
}

// GetNodes provides a mock function with given fields: ctxt
func (m *NodeCache) GetNodes(ctxt context.Context) []nodes.NodeRecord {
	args := m.Called(ctxt)
	return args.Get(0).([]nodes.NodeRecord)
}
