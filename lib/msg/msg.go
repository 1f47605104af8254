// Package msg defines the interface for different message brokers.
//
// The indexer publishes an event per indexed block and one per transaction involving a
// monitored address, so external consumers can follow the chain without polling.
package msg

import (
	"github.com/dtorres/electrumd/lib/msg/types"
)

// BlockEvent is published on every indexed block.
type BlockEvent = types.BlockEvent

// TxEvent is published when a monitored address is involved in a transaction.
type TxEvent = types.TxEvent

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	SendBlock(e BlockEvent) error
	SendTrans(net string, evts []TxEvent) error
}
