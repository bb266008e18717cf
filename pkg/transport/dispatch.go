package transport

import (
	"context"
	"fmt"

	"github.com/frisoft/lunatic/pkg/wire"
)

// Dispatcher handles decoded requests arriving on node streams. Handle is
// called from the stream's goroutine, one message at a time per stream.
// Responses are written to send under messageID.
type Dispatcher interface {
	Handle(ctx context.Context, send *SendStream, messageID uint64, req *wire.Request)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, send *SendStream, messageID uint64, req *wire.Request)

// Handle calls f.
func (f DispatcherFunc) Handle(ctx context.Context, send *SendStream, messageID uint64, req *wire.Request) {
	f(ctx, send, messageID, req)
}

// Respond encodes resp and sends it as the reply to messageID.
func Respond(send *SendStream, messageID uint64, resp *wire.Response) error {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return send.SendMessage(messageID, data)
}
