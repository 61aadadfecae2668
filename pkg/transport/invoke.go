package transport

import (
	"sync"

	"github.com/duplexwire/duplexwire/internal/xerrors"
	"github.com/duplexwire/duplexwire/pkg/value"
)

// Invoke is handed to the OnInvoke listener for an inbound Invoke packet.
// End/Reject are single-shot: a second call is a programmer error reported
// via OnListenerError (spec §4.6 "_processInvoke semantics"). Both are
// no-ops if the connection's badConnectionStamp has changed since delivery.
type Invoke struct {
	Procedure string
	CallID    float64
	Data      value.Value

	t               *Transport
	stampAtDelivery uint64

	mu   sync.Mutex
	done bool
}

// End resolves the invoke with a successful response.
func (i *Invoke) End(v value.Value) { i.respond(&v, nil) }

// Reject resolves the invoke with an error response.
func (i *Invoke) Reject(err error) { i.respond(nil, err) }

func (i *Invoke) respond(data *value.Value, err error) {
	i.mu.Lock()
	if i.done {
		i.mu.Unlock()
		i.t.reportListenerError(xerrors.InvalidAction("transport: invoke %v for %q responded more than once", i.CallID, i.Procedure))
		return
	}
	i.done = true
	i.mu.Unlock()

	if i.t.currentStamp() != i.stampAtDelivery {
		return
	}
	if err != nil {
		i.t.sendInvokeErrResp(i.CallID, err)
		return
	}
	i.t.sendInvokeDataResp(i.CallID, *data)
}
