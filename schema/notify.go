package schema

// NotificationLevel controls how an editor renders a notification.
type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "info"
	NotificationSuccess NotificationLevel = "success"
	NotificationWarning NotificationLevel = "warning"
	NotificationError   NotificationLevel = "error"
)

// NotificationKind distinguishes plain notices from requests for input.
type NotificationKind string

const (
	// NotificationNotice is a message with optional buttons.
	NotificationNotice NotificationKind = "notice"
	// NotificationLogin asks the editor to show the login form.
	NotificationLogin NotificationKind = "login"
)

// Button is a clickable action attached to a notification.
type Button struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Notification is pushed to editors over the notification stream.
type Notification struct {
	ID          string            `json:"id"`
	Kind        NotificationKind  `json:"kind"`
	Level       NotificationLevel `json:"level"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Icon        string            `json:"icon,omitempty"`
	Dismissable bool              `json:"dismissable"`
	Buttons     []Button          `json:"buttons,omitempty"`
}
