package webui

import (
	"encoding/json"

	"github.com/mudler/roomkeeper/core/inactivity"
	"github.com/mudler/roomkeeper/core/sse"
	"github.com/mudler/xlog"
)

const dispatchEvent = "dispatch"

// DispatchEvents returns a scheduler observer publishing every dispatch
// run on b
func DispatchEvents(b *sse.Broadcaster) func(inactivity.DispatchRun) {
	return func(run inactivity.DispatchRun) {
		data, err := json.Marshal(run)
		if err != nil {
			xlog.Error("Failed to encode dispatch event", "error", err)
			return
		}
		b.Send(sse.NewMessage(string(data)).WithEvent(dispatchEvent))
	}
}
