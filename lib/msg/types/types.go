// Defines the event types published to message brokers.
package types

// BlockEvent is published on every indexed block.
type BlockEvent struct {
	Net    string `json:"net"`
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

// TxEvent is published when a monitored address is involved in a transaction.
type TxEvent struct {
	Net     string `json:"net"`
	Height  int64  `json:"height"`
	TxID    string `json:"txid"`
	Address string `json:"address"`
	Value   int64  `json:"value"` // satoshis moved to (positive) or from (negative) the address
}
