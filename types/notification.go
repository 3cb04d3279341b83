package types

// NotificationKind discriminates side-channel notifications pushed by code
// running inside the generation process.
type NotificationKind string

// Notification kinds. NotificationDone is the end-of-production sentinel and
// never maps to an outgoing event.
const (
	NotificationToolCallStart    NotificationKind = "tool_call_start"
	NotificationToolCallProgress NotificationKind = "tool_call_progress"
	NotificationToolCallEnd      NotificationKind = "tool_call_end"
	NotificationContent          NotificationKind = "content"
	NotificationData             NotificationKind = "data"
	NotificationDone             NotificationKind = "done"
)

// Notification is a tagged variant carried by the notification queue.
// Exactly one of the pointer fields matching Kind is set; Done carries none.
type Notification struct {
	Kind NotificationKind `msgpack:"kind" json:"kind"`

	ToolCallStart    *ToolCallStartPayload    `msgpack:"tool_call_start,omitempty" json:"tool_call_start,omitempty"`
	ToolCallProgress *ToolCallProgressPayload `msgpack:"tool_call_progress,omitempty" json:"tool_call_progress,omitempty"`
	ToolCallEnd      *ToolCallEndPayload      `msgpack:"tool_call_end,omitempty" json:"tool_call_end,omitempty"`
	Content          *ContentPayload          `msgpack:"content,omitempty" json:"content,omitempty"`
	Data             *DataPayload             `msgpack:"data,omitempty" json:"data,omitempty"`

	// DurationMs is the tool execution time reported with tool_call_end.
	DurationMs *int64 `msgpack:"duration_ms,omitempty" json:"duration_ms,omitempty"`
}

// IsDone reports whether n is the end-of-production sentinel.
func (n Notification) IsDone() bool {
	return n.Kind == NotificationDone
}

// DoneNotification returns the end-of-production sentinel.
func DoneNotification() Notification {
	return Notification{Kind: NotificationDone}
}

// ToolStartNotification builds a tool_call_start notification.
func ToolStartNotification(p ToolCallStartPayload) Notification {
	return Notification{Kind: NotificationToolCallStart, ToolCallStart: &p}
}

// ToolProgressNotification builds a tool_call_progress notification.
func ToolProgressNotification(p ToolCallProgressPayload) Notification {
	return Notification{Kind: NotificationToolCallProgress, ToolCallProgress: &p}
}

// ToolEndNotification builds a tool_call_end notification. A negative
// duration omits duration_ms.
func ToolEndNotification(p ToolCallEndPayload, durationMs int64) Notification {
	n := Notification{Kind: NotificationToolCallEnd, ToolCallEnd: &p}
	if durationMs >= 0 {
		n.DurationMs = &durationMs
	}
	return n
}

// ContentNotification builds a content notification.
func ContentNotification(p ContentPayload) Notification {
	return Notification{Kind: NotificationContent, Content: &p}
}

// DataNotification builds a data notification.
func DataNotification(p DataPayload) Notification {
	return Notification{Kind: NotificationData, Data: &p}
}

// Fragment is one text delta from the generation process.
type Fragment struct {
	Text string `msgpack:"text" json:"text"`
}
