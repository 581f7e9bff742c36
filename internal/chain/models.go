package chain

import "time"

// MempoolStats is a point-in-time snapshot of mempool state
type MempoolStats struct {
	BlockHeight int64     `json:"blockHeight"`
	Timestamp   time.Time `json:"timestamp"`
	FeeRates    []float64 `json:"feeRates"` // sampled fee rates, sat/vB
	AvgFeeRate  float64   `json:"avgFeeRate"`
	TxCount     int       `json:"txCount"`
	SizeBytes   int64     `json:"sizeBytes"`
}

// FlowTransaction is a single transaction contributing to an entity flow
type FlowTransaction struct {
	TxID   string  `json:"txId"`
	Amount float64 `json:"amount"`
}

// EntityFlow is a snapshot of inflow/outflow for a tagged entity (exchange)
type EntityFlow struct {
	EntityID     string            `json:"entityId"`
	BlockHeight  int64             `json:"blockHeight"`
	Timestamp    time.Time         `json:"timestamp"`
	Inflow       float64           `json:"inflow"`
	Outflow      float64           `json:"outflow"`
	NetFlow      float64           `json:"netFlow"` // inflow - outflow
	Transactions []FlowTransaction `json:"transactions"`
}

// EntityBalance is a snapshot of a custody balance for a tagged entity (miner)
type EntityBalance struct {
	EntityID    string    `json:"entityId"`
	BlockHeight int64     `json:"blockHeight"`
	Timestamp   time.Time `json:"timestamp"`
	Balance     float64   `json:"balance"`
	DailyChange float64   `json:"dailyChange"`
}

// AddressActivity is a snapshot of balance and daily change for an address
type AddressActivity struct {
	Address     string    `json:"address"`
	BlockHeight int64     `json:"blockHeight"`
	Timestamp   time.Time `json:"timestamp"`
	Balance     float64   `json:"balance"`
	DailyChange float64   `json:"dailyChange"`
}

// BlockRef resolves a timestamp to a block height
type BlockRef struct {
	Height    int64     `json:"height"`
	Timestamp time.Time `json:"timestamp"`
	Reorged   bool      `json:"reorged"` // true if this height was affected by a reorg
}

// Snapshot bundles everything the processors need for one block, used by
// historical backfill
type Snapshot struct {
	BlockHeight   int64             `json:"blockHeight"`
	Timestamp     time.Time         `json:"timestamp"`
	Mempool       *MempoolStats     `json:"mempool,omitempty"`
	ExchangeFlows []EntityFlow      `json:"exchangeFlows,omitempty"`
	MinerBalances []EntityBalance   `json:"minerBalances,omitempty"`
	WhaleActivity []AddressActivity `json:"whaleActivity,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
