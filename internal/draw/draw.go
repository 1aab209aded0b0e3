// Package draw assigns rewards to distinct participants from a seed.
package draw

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultWindow is the number of seed bytes the cursor cycles through.
const DefaultWindow = 32

// Assignment is one reward won by one participant.
type Assignment struct {
	RewardIndex int
	Winner      common.Address
	Reward      *big.Int
}

// Result is the ordered outcome of a draw. Undistributed holds the rewards
// left over once every distinct participant has won.
type Result struct {
	Assignments   []Assignment
	Undistributed []*big.Int
}

// Run draws winners for rewards in order. For each reward the cursor reads
// seed[i] mod len(participants), advancing and wrapping after window bytes,
// until it lands on a participant that has not won yet. When a full pass over
// the window yields only previous winners, the search continues linearly from
// the last probed participant so every draw terminates.
//
// Callers validate that participants and rewards are non-empty.
func Run(participants []common.Address, rewards []*big.Int, seed []byte, window int) Result {
	var res Result
	n := len(participants)
	if n == 0 {
		res.Undistributed = copyAmounts(rewards)
		return res
	}

	if window <= 0 || window > len(seed) {
		window = len(seed)
	}
	distinct := countDistinct(participants)
	used := make(map[common.Address]struct{}, distinct)

	cursor := 0
	last := -1
	for ri, reward := range rewards {
		if len(used) == distinct {
			res.Undistributed = copyAmounts(rewards[ri:])
			break
		}

		idx := -1
		for probes := 0; probes < window; probes++ {
			candidate := int(seed[cursor]) % n
			cursor = (cursor + 1) % window
			last = candidate
			if _, ok := used[participants[candidate]]; !ok {
				idx = candidate
				break
			}
		}
		if idx < 0 {
			idx = scanFrom(participants, used, last)
			last = idx
		}

		winner := participants[idx]
		used[winner] = struct{}{}
		res.Assignments = append(res.Assignments, Assignment{
			RewardIndex: ri,
			Winner:      winner,
			Reward:      new(big.Int).Set(reward),
		})
	}
	return res
}

// scanFrom returns the first unused participant after position start.
// At least one unused participant must exist.
func scanFrom(participants []common.Address, used map[common.Address]struct{}, start int) int {
	n := len(participants)
	for step := 1; step <= n; step++ {
		idx := (start + step) % n
		if idx < 0 {
			idx += n
		}
		if _, ok := used[participants[idx]]; !ok {
			return idx
		}
	}
	return 0
}

func countDistinct(participants []common.Address) int {
	seen := make(map[common.Address]struct{}, len(participants))
	for _, p := range participants {
		seen[p] = struct{}{}
	}
	return len(seen)
}

func copyAmounts(amounts []*big.Int) []*big.Int {
	if len(amounts) == 0 {
		return nil
	}
	out := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		out[i] = new(big.Int).Set(a)
	}
	return out
}
