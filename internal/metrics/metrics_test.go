package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRequest("upload", "ok", 0.1)
	m.RecordRequest("upload", "ok", 0.2)
	m.RecordRequest("upload", "error", 0.3)
	if v := counterValue(m.RequestsTotal.WithLabelValues("upload", "ok")); v != 2 {
		t.Errorf("requests{upload,ok} = %v, want 2", v)
	}
	if v := counterValue(m.RequestsTotal.WithLabelValues("upload", "error")); v != 1 {
		t.Errorf("requests{upload,error} = %v, want 1", v)
	}

	m.RecordUpload(100)
	m.RecordUpload(50)
	if v := counterValue(m.BytesUploaded); v != 150 {
		t.Errorf("BytesUploaded = %v, want 150", v)
	}

	m.RecordReconcile("slot", 2)
	m.RecordReconcile("slot", 0)
	if v := counterValue(m.ReconcilesTotal.WithLabelValues("slot")); v != 2 {
		t.Errorf("reconciles{slot} = %v, want 2", v)
	}
	if v := counterValue(m.RepairsTotal.WithLabelValues("slot")); v != 2 {
		t.Errorf("repairs{slot} = %v, want 2", v)
	}

	m.RecordLock(true, false)
	m.RecordLock(true, true)
	m.RecordLock(false, false)
	if v := counterValue(m.LockAcquired); v != 2 {
		t.Errorf("LockAcquired = %v, want 2", v)
	}
	if v := counterValue(m.LockStolen); v != 1 {
		t.Errorf("LockStolen = %v, want 1", v)
	}
	if v := counterValue(m.LockConflicts); v != 1 {
		t.Errorf("LockConflicts = %v, want 1", v)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("list", "ok", 1)
	m.RecordRetry("list")
	m.RecordUpload(1)
	m.RecordDownload(1)
	m.RecordReconcile("car", 1)
	m.RecordLock(true, true)
	m.RecordDirty()
	m.RecordWrite("upload", "ok")
	m.RecordCacheFallback()
}
