package dispute

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitShares(t *testing.T) {
	tests := []struct {
		name          string
		remaining     int64
		clientBps     int64
		wantClient    int64
		wantDeveloper int64
	}{
		{"even fifty fifty", 10000, 5000, 5000, 5000},
		{"odd remainder goes to developer", 10001, 5000, 5000, 5001},
		{"single unit", 1, 5000, 0, 1},
		{"zero remaining", 0, 5000, 0, 0},
		{"seventy thirty", 10000, 7000, 7000, 3000},
		{"client gets everything", 4300, 10000, 4300, 0},
		{"client gets nothing", 4300, 0, 0, 4300},
		{"non round split", 333, 3333, 110, 223},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, developer := splitShares(tt.remaining, tt.clientBps)
			assert.Equal(t, tt.wantClient, client)
			assert.Equal(t, tt.wantDeveloper, developer)
			assert.Equal(t, tt.remaining, client+developer, "shares must sum to remaining")
		})
	}
}
