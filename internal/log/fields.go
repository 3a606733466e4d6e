package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID = "user_id"
	FieldRole   = "role"

	// Domain
	FieldChannelID = "channel_id"
	FieldMessageID = "message_id"
	FieldScope     = "scope"
	FieldEventType = "event_type"
	FieldSeq       = "seq"

	FieldService = "service"
)
