package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesJobMetrics(t *testing.T) {
	JobsCompleted.Inc()
	QueueDepthGauge.Set(4)

	// Calling Handler twice must not re-register collectors.
	_ = Handler()
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "imagejobs_completed_total")
	assert.Contains(t, body, "imagejobs_queue_depth 4")
	assert.Contains(t, body, "imagejobs_transform_seconds_bucket")
}

func TestSampleQueueDepth_PublishesUntilCancelled(t *testing.T) {
	var calls atomic.Int64
	depth := func(context.Context) (int64, error) {
		n := calls.Add(1)
		if n == 2 {
			return 0, errors.New("redis down")
		}
		return 7, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SampleQueueDepth(ctx, depth, 5*time.Millisecond, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(7), testutil.ToFloat64(QueueDepthGauge))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop")
	}
}
