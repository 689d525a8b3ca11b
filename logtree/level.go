package logtree

import "gopkg.in/yaml.v3"

// Level is the severity of a log event. The zero value, LevelUnknown, sits
// below every real severity, so a logger or appender left at its zero level
// passes everything through.
type Level int32

const (
	LevelUnknown Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{
	LevelUnknown: "UNKNOWN",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarn:    "WARN",
	LevelError:   "ERROR",
	LevelFatal:   "FATAL",
}

func (l Level) String() string {
	if l < LevelUnknown || l > LevelFatal {
		return levelNames[LevelUnknown]
	}
	return levelNames[l]
}

// LevelFromString maps the canonical upper-case names back to levels. Any
// unrecognised string is LevelUnknown.
func LevelFromString(s string) Level {
	for l, name := range levelNames {
		if l != int(LevelUnknown) && s == name {
			return Level(l)
		}
	}
	return LevelUnknown
}

// MarshalYAML encodes the level as its canonical name.
func (l Level) MarshalYAML() (any, error) {
	return l.String(), nil
}

// UnmarshalYAML decodes a level from its name, tolerating unknown names as
// LevelUnknown so a config with a typo'd level logs everything rather than
// failing the whole document.
func (l *Level) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	*l = LevelFromString(s)
	return nil
}
