package index

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrTxNotInBlock is returned when the target txid is not part of the block.
var ErrTxNotInBlock = errors.New("transaction not found in block")

// MerkleBranch computes the merkle branch linking target to the block's merkle root.
// Returns the branch hashes in wire hex form and the position of target in the block.
func MerkleBranch(txids []chainhash.Hash, target chainhash.Hash) ([]string, int, error) {
	pos := -1

	for i, id := range txids {
		if id == target {
			pos = i

			break
		}
	}

	if pos < 0 {
		return nil, 0, ErrTxNotInBlock
	}

	branch := []string{}
	level := make([]chainhash.Hash, len(txids))
	copy(level, txids)

	idx := pos

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		branch = append(branch, level[idx^1].String())

		next := make([]chainhash.Hash, len(level)/2)
		for i := range next {
			next[i] = chainhash.DoubleHashH(append(level[2*i][:], level[2*i+1][:]...))
		}

		level = next
		idx /= 2
	}

	return branch, pos, nil
}
