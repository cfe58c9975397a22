package arbiter

// Group classifies work dispatched to the pool.
type Group uint8

const (
	GroupInvalid     Group = 0
	GroupInvocation  Group = 1
	GroupTransaction Group = 2
	GroupBroadcast   Group = 3
	// queue depth ticker on each arbiter's scheduler
	GroupSample Group = 4
)

func (g Group) String() string {
	switch g {
	case GroupInvalid:
		return "Invalid Group"
	case GroupInvocation:
		return "Invocation"
	case GroupTransaction:
		return "Transaction"
	case GroupBroadcast:
		return "Broadcast"
	case GroupSample:
		return "Sample"
	default:
		return "Unknown Group"
	}
}
