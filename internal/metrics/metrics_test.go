package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLocalWrite(t *testing.T) {
	okBefore := testutil.ToFloat64(localWrites.WithLabelValues("events", "ok"))
	errBefore := testutil.ToFloat64(localWrites.WithLabelValues("events", "error"))

	RecordLocalWrite("events", time.Millisecond, nil)
	RecordLocalWrite("events", time.Millisecond, errors.New("disk"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(localWrites.WithLabelValues("events", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(localWrites.WithLabelValues("events", "error")))
}

func TestSubscriptionGauge(t *testing.T) {
	before := testutil.ToFloat64(subscriptionsActive)

	SubscriptionOpened()
	SubscriptionOpened()
	SubscriptionClosed()

	assert.Equal(t, before+1, testutil.ToFloat64(subscriptionsActive))
	SubscriptionClosed()
}

func TestRecordGatewayWrite_DefaultsToOK(t *testing.T) {
	before := testutil.ToFloat64(gatewayWrites.WithLabelValues("post", "ok"))
	RecordGatewayWrite("post", "")
	assert.Equal(t, before+1, testutil.ToFloat64(gatewayWrites.WithLabelValues("post", "ok")))
}

func TestHandler_ExposesNamespace(t *testing.T) {
	RecordSnapshot(SnapshotDelivered)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "fellowship_subscription_snapshots_total"))
}
