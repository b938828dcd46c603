package adapters

import (
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

var pahoLoggerOnce sync.Once

// pahoLogger writes paho's internal log lines to zerolog at a fixed level.
type pahoLogger struct {
	log   zerolog.Logger
	level zerolog.Level
}

func (p pahoLogger) Println(v ...interface{}) {
	p.log.WithLevel(p.level).Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (p pahoLogger) Printf(format string, v ...interface{}) {
	p.log.WithLevel(p.level).Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// SetPahoLogger routes paho's error, critical and warning loggers into log.
// paho keeps them as package globals, so only the first call takes effect.
func SetPahoLogger(log zerolog.Logger) {
	pahoLoggerOnce.Do(func() {
		l := log.With().Str("module", "paho").Logger()
		mqtt.CRITICAL = pahoLogger{log: l, level: zerolog.ErrorLevel}
		mqtt.ERROR = pahoLogger{log: l, level: zerolog.ErrorLevel}
		mqtt.WARN = pahoLogger{log: l, level: zerolog.WarnLevel}
	})
}

var _ mqtt.Logger = pahoLogger{}
