package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventPriceTick          Event = "price_tick"
	EventSignalConfirmed    Event = "signal.confirmed"
	EventSignalRejected     Event = "signal.rejected"
	EventOrderSubmitted     Event = "order.submitted"
	EventOrderFilled        Event = "order.filled"
	EventOrderPartialFilled Event = "order.partial_filled"
	EventOrderCancelled     Event = "order.cancelled"
	EventOrderRejected      Event = "order.rejected"
	EventOrderError         Event = "order.error"
	EventRiskAlert          Event = "risk_alert"
	EventEmergencyStop      Event = "emergency_stop"
	EventPositionChange     Event = "position_change"
	EventEngineState        Event = "engine.state"
	EventModeChanged        Event = "mode.changed"
)
