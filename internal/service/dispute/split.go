package dispute

import "github.com/shopspring/decimal"

// splitShares divides a remaining escrow balance between client and developer
// by the client's share in basis points. Shares always sum to remaining; the
// developer leg absorbs the rounding remainder.
func splitShares(remaining, clientBps int64) (clientShare, developerShare int64) {
	if remaining <= 0 {
		return 0, 0
	}
	ratio := decimal.NewFromInt(clientBps).Div(decimal.NewFromInt(10000))
	clientShare = decimal.NewFromInt(remaining).Mul(ratio).Floor().IntPart()
	developerShare = remaining - clientShare
	return clientShare, developerShare
}
