package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordImportCommitted(t *testing.T) {
	before := testutil.ToFloat64(ImportsCommitted.WithLabelValues(KindRestore))
	ts := time.Unix(1749546000, 0)

	RecordImportCommitted(KindRestore, ts)

	require.Equal(t, before+1, testutil.ToFloat64(ImportsCommitted.WithLabelValues(KindRestore)))
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastImportGauge))
}

func TestRecordImportFailed(t *testing.T) {
	before := testutil.ToFloat64(ImportFailures.WithLabelValues("malformed"))
	RecordImportFailed("malformed")
	require.Equal(t, before+1, testutil.ToFloat64(ImportFailures.WithLabelValues("malformed")))
}
