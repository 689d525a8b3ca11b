package logtree

import "time"

// Event is a single log record. Loggers stamp LoggerName (and, for the
// printf helpers, everything else) before handing the event to appenders;
// events travel by pointer and must not be mutated after submission.
type Event struct {
	Time        time.Time
	File        string
	Message     string
	LoggerName  string
	Line        int
	ThreadID    int
	CoroutineID uint32
	Level       Level
}
