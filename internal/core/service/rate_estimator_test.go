package service

import (
	"testing"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var estimator = NewRateEstimator(DefaultMinSampleInterval, DefaultMaxSampleInterval)

func TestComputeExport(t *testing.T) {

	require := require.New(t)

	// 100Wh exported in one minute
	s, err := estimator.Compute(reading(0, 1000, 5000), reading(60, 1000, 5100))
	require.NoError(err)
	require.InDelta(6000, s.AverageWatts, 1e-9)
	require.Equal(time.Minute, s.Interval)
	require.True(s.IsExport())
}

func TestComputeImport(t *testing.T) {

	require := require.New(t)

	s, err := estimator.Compute(reading(0, 1000, 5000), reading(120, 1050, 5010))
	require.NoError(err)
	require.InDelta(-1200, s.AverageWatts, 1e-9)
	require.False(s.IsExport())
}

func TestEqualTimestampsAreTooShort(t *testing.T) {

	s, err := estimator.Compute(reading(60, 1000, 5000), reading(60, 1000, 5000))
	assert.ErrorIs(t, err, domain.ErrIntervalTooShort)
	assert.Zero(t, s.AverageWatts)

	// the timestamp wins over a counter reset
	_, err = estimator.Compute(reading(60, 1000, 5000), reading(60, 0, 0))
	assert.ErrorIs(t, err, domain.ErrIntervalTooShort)
	assert.NotErrorIs(t, err, domain.ErrNonMonotonic)
}

func TestCounterDecreaseIsNonMonotonic(t *testing.T) {

	_, err := estimator.Compute(reading(0, 1000, 5000), reading(60, 999, 5100))
	assert.ErrorIs(t, err, domain.ErrNonMonotonic)

	_, err = estimator.Compute(reading(0, 1000, 5000), reading(60, 1000, 4000))
	assert.ErrorIs(t, err, domain.ErrNonMonotonic)
}

func TestTimestampBackwardsIsNonMonotonic(t *testing.T) {

	_, err := estimator.Compute(reading(60, 1000, 5000), reading(0, 1000, 5000))
	assert.ErrorIs(t, err, domain.ErrNonMonotonic)
}

func TestIntervalBounds(t *testing.T) {

	_, err := estimator.Compute(reading(0, 1000, 5000), reading(5, 1000, 5001))
	assert.ErrorIs(t, err, domain.ErrIntervalTooShort)

	_, err = estimator.Compute(reading(0, 1000, 5000), reading(301, 1000, 5100))
	assert.ErrorIs(t, err, domain.ErrIntervalTooLong)

	_, err = estimator.Compute(reading(0, 1000, 5000), reading(300, 1000, 5100))
	assert.NoError(t, err)
}

func TestComputeIsPure(t *testing.T) {

	require := require.New(t)

	prev := reading(0, 1000, 5000)
	cur := reading(60, 1010, 5050)

	s1, err1 := estimator.Compute(prev, cur)
	s2, err2 := estimator.Compute(prev, cur)
	require.NoError(err1)
	require.NoError(err2)
	require.Equal(s1, s2)
	require.Equal(reading(0, 1000, 5000), prev)
	require.Equal(reading(60, 1010, 5050), cur)
}
