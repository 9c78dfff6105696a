package core

// Logger is any service that can log & report app events.
// expected args: error, map[string]interface{} (context), Principal
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Principal identifies the API client a log entry is reported for.
type Principal struct {
	ID       string
	Username string
}
