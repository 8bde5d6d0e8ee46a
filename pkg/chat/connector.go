package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ConnectorOptions carries the credentials and scope a connector needs to
// open a gateway.
type ConnectorOptions struct {
	Token       string
	CommunityID int64
}

// Connector opens a Gateway against a concrete chat platform. Transport
// implementations register themselves by name, database/sql driver style,
// so the core engine stays free of platform SDKs.
type Connector interface {
	Open(ctx context.Context, opts ConnectorOptions) (Gateway, error)
}

var (
	connectorsMu sync.RWMutex
	connectors   = make(map[string]Connector)
)

// RegisterConnector makes a connector available under the given name.
// Registering twice under the same name panics, as does a nil connector.
func RegisterConnector(name string, c Connector) {
	connectorsMu.Lock()
	defer connectorsMu.Unlock()
	if c == nil {
		panic("chat: RegisterConnector with nil connector")
	}
	if _, dup := connectors[name]; dup {
		panic("chat: RegisterConnector called twice for " + name)
	}
	connectors[name] = c
}

// Connectors returns the sorted names of all registered connectors.
func Connectors() []string {
	connectorsMu.RLock()
	defer connectorsMu.RUnlock()
	names := make([]string, 0, len(connectors))
	for name := range connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens a gateway using the named connector.
func Open(ctx context.Context, name string, opts ConnectorOptions) (Gateway, error) {
	connectorsMu.RLock()
	c, ok := connectors[name]
	connectorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("chat: unknown connector %q (registered: %v)", name, Connectors())
	}
	return c.Open(ctx, opts)
}
