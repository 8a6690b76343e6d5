package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI fragments. Only the events the indexer consumes are declared, plus
// the submitProposal function whose calldata decodeObjective reads.
const agentRegistryABI = `[
	{"type":"event","name":"AgentRegistered","inputs":[
		{"name":"agent","type":"address","indexed":true},
		{"name":"agentType","type":"uint8","indexed":false},
		{"name":"minFee","type":"uint256","indexed":false},
		{"name":"minBond","type":"uint256","indexed":false},
		{"name":"capabilities","type":"string[]","indexed":false}
	]},
	{"type":"event","name":"ReputationUpdated","inputs":[
		{"name":"agent","type":"address","indexed":true},
		{"name":"oldScore","type":"uint256","indexed":false},
		{"name":"newScore","type":"uint256","indexed":false},
		{"name":"reason","type":"string","indexed":false}
	]}
]`

const managerABI = `[
	{"type":"event","name":"ProposalSubmitted","inputs":[
		{"name":"proposalId","type":"uint256","indexed":true},
		{"name":"proposer","type":"address","indexed":true},
		{"name":"escrow","type":"uint256","indexed":false},
		{"name":"deadline","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"ProposalAccepted","inputs":[
		{"name":"proposalId","type":"uint256","indexed":true},
		{"name":"taskId","type":"uint256","indexed":true},
		{"name":"worker","type":"address","indexed":false},
		{"name":"verifier","type":"address","indexed":false}
	]},
	{"type":"event","name":"WorkerBondPosted","inputs":[
		{"name":"taskId","type":"uint256","indexed":true},
		{"name":"worker","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"TaskStarted","inputs":[
		{"name":"taskId","type":"uint256","indexed":true}
	]},
	{"type":"event","name":"TaskCompleted","inputs":[
		{"name":"taskId","type":"uint256","indexed":true}
	]},
	{"type":"event","name":"TaskSettled","inputs":[
		{"name":"taskId","type":"uint256","indexed":true},
		{"name":"success","type":"bool","indexed":false},
		{"name":"payout","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"TaskExpired","inputs":[
		{"name":"taskId","type":"uint256","indexed":true}
	]},
	{"type":"function","name":"submitProposal","stateMutability":"nonpayable","inputs":[
		{"name":"objective","type":"string"},
		{"name":"escrow","type":"uint256"},
		{"name":"deadline","type":"uint256"}
	],"outputs":[]}
]`

var (
	parsedAgentRegistryABI abi.ABI
	parsedManagerABI       abi.ABI
)

func init() {
	var err error
	parsedAgentRegistryABI, err = abi.JSON(strings.NewReader(agentRegistryABI))
	if err != nil {
		panic("indexer: invalid AgentRegistry ABI: " + err.Error())
	}
	parsedManagerABI, err = abi.JSON(strings.NewReader(managerABI))
	if err != nil {
		panic("indexer: invalid Manager ABI: " + err.Error())
	}
}

func abiForStream(s Stream) (abi.ABI, error) {
	switch s {
	case StreamAgentRegistry:
		return parsedAgentRegistryABI, nil
	case StreamManager:
		return parsedManagerABI, nil
	default:
		return abi.ABI{}, fmt.Errorf("indexer: unknown stream %q", s)
	}
}

// expectedIndexed is the number of indexed (topic) arguments we expect
// per event, used by the ABI-drift guard alongside the parsed ABI's own
// definition. Kept as an explicit table so a mismatch between the two
// is itself a sign the ABI fragment above was edited inconsistently.
var expectedIndexed = map[string]int{
	"AgentRegistered":   1,
	"ReputationUpdated": 1,
	"ProposalSubmitted": 2,
	"ProposalAccepted":  2,
	"WorkerBondPosted":  1,
	"TaskStarted":       1,
	"TaskCompleted":     1,
	"TaskSettled":       1,
	"TaskExpired":       1,
}

// decodeObjective pulls the objective string argument out of a
// submitProposal transaction's calldata, since ProposalSubmitted omits
// it to keep event data small.
func decodeObjective(input []byte) (string, error) {
	if len(input) < 4 {
		return "", fmt.Errorf("calldata too short for a function selector")
	}
	method, ok := parsedManagerABI.Methods["submitProposal"]
	if !ok {
		return "", fmt.Errorf("submitProposal not present in ABI")
	}
	vals, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return "", err
	}
	if len(vals) == 0 {
		return "", fmt.Errorf("no arguments decoded")
	}
	objective, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("objective argument is not a string")
	}
	return objective, nil
}

// ErrABIDrift signals that a log's shape no longer matches the ABI
// fragment the indexer was built against. The affected stream is
// stopped; it is not safe to guess at a decoding.
type ErrABIDrift struct {
	Stream    Stream
	Event     string
	TxHash    string
	LogIndex  uint
	Reason    string
}

func (e *ErrABIDrift) Error() string {
	return fmt.Sprintf("indexer: ABI drift on %s.%s (tx %s log %d): %s", e.Stream, e.Event, e.TxHash, e.LogIndex, e.Reason)
}
