package tracing

import "testing"

func TestStartInvokeClosesCleanlyOnSuccess(t *testing.T) {
	tr := New(WithTracerName("test"))
	end := tr.StartInvoke("echo", 1)
	if end == nil {
		t.Fatal("StartInvoke returned a nil closer")
	}
	end(nil)
}

func TestStartInvokeRecordsError(t *testing.T) {
	tr := New(WithTracerName("test"))
	end := tr.StartInvoke("echo", 2)
	end(errBoom)
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
