package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

func TestSelectTopology(t *testing.T) {
	long := domain.Position{Symbol: "AAPL", Qty: 100, AvgPrice: 50}
	short := domain.Position{Symbol: "AAPL", Qty: -100, AvgPrice: 50}
	flat := domain.Position{Symbol: "AAPL"}

	tests := []struct {
		name string
		sig  domain.Signal
		pos  domain.Position
		want domain.OrderTopology
	}{
		{
			name: "plain entry",
			sig:  domain.Signal{Direction: domain.DirectionLong, Price: 50},
			pos:  flat,
			want: domain.TopologyPlain,
		},
		{
			name: "stop and target make a bracket",
			sig:  domain.Signal{Direction: domain.DirectionLong, Price: 50, StopPrice: 48, TargetPrice: 55},
			pos:  flat,
			want: domain.TopologyBracket,
		},
		{
			name: "stop alone stays plain",
			sig:  domain.Signal{Direction: domain.DirectionLong, Price: 50, StopPrice: 48},
			pos:  flat,
			want: domain.TopologyPlain,
		},
		{
			name: "scale-in against live same-side position",
			sig:  domain.Signal{Direction: domain.DirectionLong, Price: 49, ScaleIn: true},
			pos:  long,
			want: domain.TopologyScaleIn,
		},
		{
			name: "scale-in short against short position",
			sig:  domain.Signal{Direction: domain.DirectionShort, Price: 51, ScaleIn: true},
			pos:  short,
			want: domain.TopologyScaleIn,
		},
		{
			name: "scale-in against flat degrades to entry",
			sig:  domain.Signal{Direction: domain.DirectionLong, Price: 49, ScaleIn: true},
			pos:  flat,
			want: domain.TopologyPlain,
		},
		{
			name: "scale-in with bracket prices against flat degrades to bracket",
			sig:  domain.Signal{Direction: domain.DirectionLong, Price: 49, ScaleIn: true, StopPrice: 48, TargetPrice: 55},
			pos:  flat,
			want: domain.TopologyBracket,
		},
		{
			name: "legs force a spread",
			sig: domain.Signal{Direction: domain.DirectionLong, Legs: []domain.SpreadLeg{
				{Symbol: "AAPL", Side: domain.OrderSideBuy, Ratio: 1},
				{Symbol: "MSFT", Side: domain.OrderSideSell, Ratio: 1},
			}},
			pos:  long,
			want: domain.TopologySpread,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectTopology(tt.sig, tt.pos))
		})
	}
}

func TestWouldBox(t *testing.T) {
	long := domain.Position{Qty: 100}
	short := domain.Position{Qty: -100}
	flat := domain.Position{}

	assert.False(t, WouldBox(domain.Signal{Direction: domain.DirectionLong}, flat))
	assert.False(t, WouldBox(domain.Signal{Direction: domain.DirectionLong}, long))
	assert.True(t, WouldBox(domain.Signal{Direction: domain.DirectionShort}, long))
	assert.True(t, WouldBox(domain.Signal{Direction: domain.DirectionLong}, short))
	assert.False(t, WouldBox(domain.Signal{Direction: domain.DirectionShort}, short))
}
