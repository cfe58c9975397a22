package wire

type Header byte

const (
	HeaderSessionOpenRequest  Header = 0x01
	HeaderSessionOpenResponse Header = 0x02
	HeaderInvocationRequest   Header = 0x03
	HeaderInvocationCancel    Header = 0x04
	HeaderInvocationResponse  Header = 0x05
	HeaderInvocationException Header = 0x06
	HeaderModuleAvailable     Header = 0x08
	HeaderModuleUnavailable   Header = 0x09
	HeaderNoSuchComponent     Header = 0x0A
	HeaderNoSuchMethod        Header = 0x0B
	HeaderSessionNotActive    Header = 0x0C
	HeaderTxCommit            Header = 0x0F
	HeaderTxRollback          Header = 0x10
	HeaderTxPrepare           Header = 0x11
	HeaderTxForget            Header = 0x12
	HeaderTxBeforeCompletion  Header = 0x13
	HeaderTxResponse          Header = 0x14
	HeaderClusterTopology     Header = 0x15
	HeaderClusterRemoved      Header = 0x16
	HeaderClusterNodesAdded   Header = 0x17
	HeaderClusterNodesRemoved Header = 0x18
)

func (h Header) String() string {
	switch h {
	case HeaderSessionOpenRequest:
		return "Session Open Request"
	case HeaderSessionOpenResponse:
		return "Session Open Response"
	case HeaderInvocationRequest:
		return "Invocation Request"
	case HeaderInvocationCancel:
		return "Invocation Cancel"
	case HeaderInvocationResponse:
		return "Invocation Response"
	case HeaderInvocationException:
		return "Invocation Exception"
	case HeaderModuleAvailable:
		return "Module Available"
	case HeaderModuleUnavailable:
		return "Module Unavailable"
	case HeaderNoSuchComponent:
		return "No Such Component"
	case HeaderNoSuchMethod:
		return "No Such Method"
	case HeaderSessionNotActive:
		return "Session Not Active"
	case HeaderTxCommit:
		return "Tx Commit"
	case HeaderTxRollback:
		return "Tx Rollback"
	case HeaderTxPrepare:
		return "Tx Prepare"
	case HeaderTxForget:
		return "Tx Forget"
	case HeaderTxBeforeCompletion:
		return "Tx Before Completion"
	case HeaderTxResponse:
		return "Tx Response"
	case HeaderClusterTopology:
		return "Cluster Topology"
	case HeaderClusterRemoved:
		return "Cluster Removed"
	case HeaderClusterNodesAdded:
		return "Cluster Nodes Added"
	case HeaderClusterNodesRemoved:
		return "Cluster Nodes Removed"
	default:
		return "Unknown Header"
	}
}
