package node

import (
	"context"
	"log/slog"

	"github.com/frisoft/lunatic/pkg/transport"
	"github.com/frisoft/lunatic/pkg/wire"
)

// Dispatcher executes peer requests on a Runtime and answers each one on
// the stream it arrived on.
type Dispatcher struct {
	runtime Runtime
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher for rt.
func NewDispatcher(rt Runtime, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{runtime: rt, logger: logger}
}

// Handle implements transport.Dispatcher.
func (d *Dispatcher) Handle(ctx context.Context, send *transport.SendStream, messageID uint64, req *wire.Request) {
	resp := d.Execute(ctx, req)
	if !resp.IsSuccess() {
		d.logger.Debug("request failed", "msg_id", messageID, "kind", req.Kind.String(), "error", resp.Error)
	}
	if err := transport.Respond(send, messageID, resp); err != nil {
		d.logger.Warn("failed to send response", "msg_id", messageID, "kind", req.Kind.String(), "error", err)
	}
}

// Execute runs req against the runtime and builds its response.
func (d *Dispatcher) Execute(ctx context.Context, req *wire.Request) *wire.Response {
	if err := req.Validate(); err != nil {
		return wire.ErrorResponse(err)
	}

	switch req.Kind {
	case wire.KindSpawn:
		id, err := d.runtime.Spawn(ctx, req.EnvironmentID, req.ModuleID, req.Function, req.Params, req.Config)
		if err != nil {
			return wire.ErrorResponse(err)
		}
		return &wire.Response{Kind: wire.ResponseSpawned, ProcessID: id}

	case wire.KindMessage:
		return ack(d.runtime.Message(ctx, req.EnvironmentID, req.ProcessID, req.Tag, req.Data))

	case wire.KindLink:
		return ack(d.runtime.Link(ctx, req.EnvironmentID, req.ProcessID, req.LinkedID, req.Tag))

	case wire.KindUnlink:
		return ack(d.runtime.Unlink(ctx, req.EnvironmentID, req.ProcessID, req.LinkedID))

	case wire.KindKill:
		return ack(d.runtime.Kill(ctx, req.EnvironmentID, req.ProcessID))

	case wire.KindLookup:
		id, ok, err := d.runtime.Lookup(ctx, req.EnvironmentID, req.Name)
		if err != nil {
			return wire.ErrorResponse(err)
		}
		if !ok {
			return &wire.Response{Kind: wire.ResponseNotFound}
		}
		return &wire.Response{Kind: wire.ResponseResolved, ProcessID: id}
	}
	// Unreachable after Validate.
	return wire.ErrorResponse(wire.ErrInvalidKind)
}

func ack(err error) *wire.Response {
	if err != nil {
		return wire.ErrorResponse(err)
	}
	return &wire.Response{Kind: wire.ResponseOK}
}

var _ transport.Dispatcher = (*Dispatcher)(nil)
