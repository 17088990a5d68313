package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a bridge transaction. Completed and failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"   // source transaction submitted, not yet included
	StatusConfirmed Status = "confirmed" // source transaction included, waiting for destination
	StatusCompleted Status = "completed" // destination transaction observed
	StatusFailed    Status = "failed"    // cancelled or destination fault
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusFailed
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// conditions are kept in memory only and never persisted
const (
	ConditionNone              = ""
	ConditionPersistenceFailed = "persistence_failed"
)

const (
	FailureCancelled        = "cancelled"
	FailureDestinationFault = "destination_fault"
)

// ChainDescriptor is a supported network. Loaded once at startup.
type ChainDescriptor struct {
	ID             int      `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	NativeSymbol   string   `json:"nativeSymbol" yaml:"native_symbol"`
	RPCURL         string   `json:"rpcUrl" yaml:"rpc_url"`
	RPCList        []string `json:"-" yaml:"rpc_list"` // fallbacks tried in order after RPCURL
	ExplorerURL    string   `json:"explorerUrl" yaml:"explorer_url"`
	BridgeContract string   `json:"bridgeContract,omitempty" yaml:"bridge_contract"`
	Tokens         []string `json:"tokens" yaml:"tokens"`
	Slow           bool     `json:"slow,omitempty" yaml:"slow"` // reference network with long finality
}

func (c ChainDescriptor) SupportsToken(token string) bool {
	for _, t := range c.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Endpoints returns the primary RPC url followed by the fallbacks.
func (c ChainDescriptor) Endpoints() []string {
	list := make([]string, 0, len(c.RPCList)+1)
	if c.RPCURL != "" {
		list = append(list, c.RPCURL)
	}
	return append(list, c.RPCList...)
}

// Fees is the fee breakdown stored with every transaction
type Fees struct {
	Network decimal.Decimal `json:"network"`
	Bridge  decimal.Decimal `json:"bridge"`
	Total   decimal.Decimal `json:"total"`
	Token   string          `json:"token"`
}

type FeeEstimate struct {
	NetworkFee        decimal.Decimal `json:"networkFee"`
	BridgeFee         decimal.Decimal `json:"bridgeFee"`
	TotalFee          decimal.Decimal `json:"totalFee"`
	EstimatedDuration time.Duration   `json:"estimatedDuration"`
	Token             string          `json:"token"`
}

func (f FeeEstimate) Fees() Fees {
	return Fees{
		Network: f.NetworkFee,
		Bridge:  f.BridgeFee,
		Total:   f.TotalFee,
		Token:   f.Token,
	}
}

// BridgeTransaction is a single transfer from SourceChain to DestinationChain.
// DestinationTxHash is set exactly when Status becomes completed.
type BridgeTransaction struct {
	ID                string        `json:"id"`
	SourceChain       int           `json:"sourceChain"`
	DestinationChain  int           `json:"destinationChain"`
	Token             string        `json:"token"`
	Amount            string        `json:"amount"` // decimal string in token units
	Status            Status        `json:"status"`
	SourceTxHash      string        `json:"sourceTxHash"`
	DestinationTxHash string        `json:"destinationTxHash,omitempty"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	Fees              Fees          `json:"fees"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
	OwnerAddress      string        `json:"ownerAddress"`
	RetryOf           string        `json:"retryOf,omitempty"`
	FailureReason     string        `json:"failureReason,omitempty"`

	// not persisted
	Condition string `json:"-"`
	LastError string `json:"-"`
}

// Elapsed is the time since creation as seen at now.
func (t *BridgeTransaction) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// Route is the (source, destination, token) triple of the transaction.
func (t *BridgeTransaction) Route() Route {
	return Route{Source: t.SourceChain, Destination: t.DestinationChain, Token: t.Token}
}

type Route struct {
	Source      int
	Destination int
	Token       string
}
