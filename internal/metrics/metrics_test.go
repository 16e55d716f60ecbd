package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCaption(t *testing.T) {
	before := testutil.ToFloat64(captionRequests.WithLabelValues("test", "success"))
	RecordCaption("test", "success", 0.2)
	RecordCaption("test", "error", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(captionRequests.WithLabelValues("test", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(captionRequests.WithLabelValues("test", "error")))
}

func TestRecordTokensAndStops(t *testing.T) {
	RecordTokens("tokens-test", 4)
	RecordTokens("tokens-test", 3)
	assert.Equal(t, 7.0, testutil.ToFloat64(tokensGenerated.WithLabelValues("tokens-test")))

	before := testutil.ToFloat64(stopReasons.WithLabelValues("end_token"))
	RecordStopReason("end_token")
	assert.Equal(t, before+1, testutil.ToFloat64(stopReasons.WithLabelValues("end_token")))
}

func TestQueueGauges(t *testing.T) {
	UpdateQueue(3, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(queueActive))
}
