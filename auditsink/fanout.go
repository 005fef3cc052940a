package auditsink

import (
	"context"

	"github.com/MrEthical07/otpgate"
)

// Fanout delivers each event to every sink in order.
type Fanout []otpgate.AuditSink

func (f Fanout) Emit(ctx context.Context, event otpgate.AuditEvent) {
	for _, sink := range f {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}
