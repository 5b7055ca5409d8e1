package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDimensionsMD5IsOrderIndependent(t *testing.T) {
	a := DimensionsMD5(map[string]string{"host": "web-1", "cluster": "prod", "pod": "api-0"})
	b := DimensionsMD5(map[string]string{"pod": "api-0", "cluster": "prod", "host": "web-1"})
	require.Equal(t, a, b)
	require.Len(t, a, 32)
}

func TestDimensionsMD5DistinguishesValues(t *testing.T) {
	a := DimensionsMD5(map[string]string{"host": "web-1"})
	b := DimensionsMD5(map[string]string{"host": "web-2"})
	require.NotEqual(t, a, b)
}

func TestAnomalyIDFormat(t *testing.T) {
	id := AnomalyID("abc123", 1700000000, 1, 2, 3)
	require.Equal(t, "abc123.1700000000.1.2.3", id)
}

func TestAnomalyForParsesLevelKeys(t *testing.T) {
	p := &AnomalyPoint{
		Anomaly: map[string]AnomalyInfo{
			"2": {AnomalyID: "x.2", AnomalyMessage: "threshold breached"},
		},
	}

	info, ok := p.AnomalyFor(LevelWarning)
	require.True(t, ok)
	require.Equal(t, "x.2", info.AnomalyID)

	_, ok = p.AnomalyFor(LevelCritical)
	require.False(t, ok)
}

func TestIsNoData(t *testing.T) {
	p := &AnomalyPoint{Data: PointData{Dimensions: map[string]string{"host": "web-1"}}}
	require.False(t, p.IsNoData())

	p.Data.Dimensions[NoDataTag] = "true"
	require.True(t, p.IsNoData())
}
