package httpapi

// Config defines local API settings.
type Config struct {
	Addr string
	// HistorySize bounds the notification history kept for stream replay.
	HistorySize int
}
