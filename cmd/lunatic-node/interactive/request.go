package interactive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/frisoft/lunatic/pkg/wire"
)

// ParseRequest builds a request of the named kind from command arguments.
// The target peer is not part of args.
//
//	spawn  <module> <function> [params...]
//	send   <pid> [#tag] <text...>
//	link   <pid> <local-pid> [#tag]
//	unlink <pid> <local-pid>
//	kill   <pid>
//	lookup <name>
func ParseRequest(env uint64, kind string, args []string) (*wire.Request, error) {
	req := &wire.Request{EnvironmentID: env}

	switch strings.ToLower(kind) {
	case "spawn":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: spawn <module> <function> [params...]")
		}
		module, err := parseID("module", args[0])
		if err != nil {
			return nil, err
		}
		req.Kind = wire.KindSpawn
		req.ModuleID = module
		req.Function = args[1]
		for _, a := range args[2:] {
			p, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid param %q: %w", a, err)
			}
			req.Params = append(req.Params, p)
		}

	case "send", "message":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: send <pid> [#tag] <text...>")
		}
		pid, err := parseID("process", args[0])
		if err != nil {
			return nil, err
		}
		rest := args[1:]
		if len(rest) > 0 && strings.HasPrefix(rest[0], "#") {
			tag, err := parseTag(rest[0])
			if err != nil {
				return nil, err
			}
			req.Tag = &tag
			rest = rest[1:]
		}
		req.Kind = wire.KindMessage
		req.ProcessID = pid
		req.Data = []byte(strings.Join(rest, " "))

	case "link", "unlink":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: %s <pid> <local-pid>", kind)
		}
		pid, err := parseID("process", args[0])
		if err != nil {
			return nil, err
		}
		linked, err := parseID("local process", args[1])
		if err != nil {
			return nil, err
		}
		req.ProcessID = pid
		req.LinkedID = linked
		req.Kind = wire.KindUnlink
		if strings.EqualFold(kind, "link") {
			req.Kind = wire.KindLink
			if len(args) > 2 {
				tag, err := parseTag(args[2])
				if err != nil {
					return nil, err
				}
				req.Tag = &tag
			}
		}

	case "kill":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: kill <pid>")
		}
		pid, err := parseID("process", args[0])
		if err != nil {
			return nil, err
		}
		req.Kind = wire.KindKill
		req.ProcessID = pid

	case "lookup":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: lookup <name>")
		}
		req.Kind = wire.KindLookup
		req.Name = args[0]

	default:
		return nil, fmt.Errorf("unknown request kind: %s", kind)
	}

	return req, req.Validate()
}

// FormatResponse renders a response on one line.
func FormatResponse(resp *wire.Response) string {
	switch resp.Kind {
	case wire.ResponseSpawned, wire.ResponseResolved:
		return fmt.Sprintf("%s pid=%d", resp.Kind, resp.ProcessID)
	case wire.ResponseError:
		return fmt.Sprintf("Error: %s", resp.Error)
	default:
		return resp.Kind.String()
	}
}

func parseID(what, s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

func parseTag(s string) (int64, error) {
	tag, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tag %q", s)
	}
	return tag, nil
}
