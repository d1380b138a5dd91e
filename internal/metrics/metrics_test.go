package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(RetryAttempts.WithLabelValues("put", "retry"))
	RetryAttempts.WithLabelValues("put", "retry").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RetryAttempts.WithLabelValues("put", "retry")))

	TransfersInFlight.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(TransfersInFlight))
	TransfersInFlight.Set(0)
}
