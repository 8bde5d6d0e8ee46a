package chatfake

import (
	"context"

	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

// connector opens in-memory gateways under the name "memory". Useful for
// local dry runs of the full process without a platform connection.
type connector struct{}

func (connector) Open(ctx context.Context, opts chat.ConnectorOptions) (chat.Gateway, error) {
	return New(opts.CommunityID), nil
}

func init() {
	chat.RegisterConnector("memory", connector{})
}
