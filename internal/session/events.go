package session

import "github.com/voicegate/gateway/internal/eventbus"

// IoTCommandEvent fires when the IOT_CTL tool type dispatches a device
// command through the event bus, per §4.12's requirement that
// SYSTEM_CTL/IOT_CTL handlers reach devices only through the
// PluginContext's bus, never a direct reference back into the
// transport.
type IoTCommandEvent struct {
	eventbus.Base
	Device string
	Action string
}

// NewIoTCommandEvent builds an IoTCommandEvent for sessionID.
func NewIoTCommandEvent(sessionID, device, action string) IoTCommandEvent {
	return IoTCommandEvent{Base: eventbus.NewBase(sessionID), Device: device, Action: action}
}
