package wire

// RequestKind identifies the operation a node asks a peer to perform.
type RequestKind uint8

const (
	// KindSpawn spawns a process on the peer.
	KindSpawn RequestKind = 1

	// KindMessage delivers a message to a process on the peer.
	KindMessage RequestKind = 2

	// KindLink links a remote process to a local one.
	KindLink RequestKind = 3

	// KindUnlink removes a link created with KindLink.
	KindUnlink RequestKind = 4

	// KindKill terminates a process on the peer.
	KindKill RequestKind = 5

	// KindLookup resolves a registered process name on the peer.
	KindLookup RequestKind = 6
)

// String returns the request kind name.
func (k RequestKind) String() string {
	switch k {
	case KindSpawn:
		return "Spawn"
	case KindMessage:
		return "Message"
	case KindLink:
		return "Link"
	case KindUnlink:
		return "Unlink"
	case KindKill:
		return "Kill"
	case KindLookup:
		return "Lookup"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the kind is a known request kind.
func (k RequestKind) IsValid() bool {
	return k >= KindSpawn && k <= KindLookup
}

// ResponseKind classifies the outcome of a request.
type ResponseKind uint8

const (
	// ResponseOK acknowledges a request without a result value.
	ResponseOK ResponseKind = 0

	// ResponseSpawned carries the id of a newly spawned process.
	ResponseSpawned ResponseKind = 1

	// ResponseResolved carries the id of a looked up process.
	ResponseResolved ResponseKind = 2

	// ResponseNotFound reports that a lookup found no process.
	ResponseNotFound ResponseKind = 3

	// ResponseError reports a failed request. Error holds the reason.
	ResponseError ResponseKind = 4
)

// String returns the response kind name.
func (k ResponseKind) String() string {
	switch k {
	case ResponseOK:
		return "OK"
	case ResponseSpawned:
		return "Spawned"
	case ResponseResolved:
		return "Resolved"
	case ResponseNotFound:
		return "NotFound"
	case ResponseError:
		return "Error"
	default:
		return "Unknown"
	}
}
