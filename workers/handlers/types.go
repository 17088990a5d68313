package handlers

import (
	"gobridgetracker/recovery"
	"gobridgetracker/types"
)

type APIResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type APIChainsResponse struct {
	Status string                  `json:"status"`
	Chains []types.ChainDescriptor `json:"chains"`
}

type APIFeeResponse struct {
	Status   string            `json:"status"`
	Estimate types.FeeEstimate `json:"estimate"`
}

type BridgeRequest struct {
	SourceChain      int    `json:"sourceChain"`
	DestinationChain int    `json:"destinationChain"`
	Token            string `json:"token"`
	Amount           string `json:"amount"`
	// optional, the request owner is used when empty
	Owner string `json:"owner,omitempty"`
}

type APIBridgeResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	// set for retries
	RetryOf string `json:"retryOf,omitempty"`
}

type APITransactionResponse struct {
	Status      string                  `json:"status"`
	Transaction types.BridgeTransaction `json:"transaction"`
}

type APIHistoryResponse struct {
	Status       string                    `json:"status"`
	Transactions []types.BridgeTransaction `json:"transactions"`
}

type APIRecoveryResponse struct {
	Status string          `json:"status"`
	Report recovery.Report `json:"report"`
}

type APIActionResponse struct {
	Status string `json:"status"`
	Action string `json:"action"`
	Result string `json:"result,omitempty"`
}
