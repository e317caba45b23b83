package kumo

import (
	"context"

	"github.com/hvackit/kumo/internal/socketio"
)

// SocketIODialer returns the production ChannelDialer, backed by the
// Socket.IO client. Leave Config.Dialer nil instead to run without a
// realtime channel (refresh requests then report ErrRefreshUnsupported
// and serve baseline data).
func SocketIODialer() ChannelDialer {
	return func(ctx context.Context, socketURL, accessToken string) (PushChannel, error) {
		return socketio.Dial(ctx, socketURL, accessToken)
	}
}
