package logging

import (
	"io"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// New creates a leveled logger writing to w
func New(prefix, level string, w io.Writer) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(w)
	l.SetHeader(`${time_rfc3339} ${level} ${prefix}`)
	lvl, ok := ParseLevel(level)
	l.SetLevel(lvl)
	if !ok {
		l.Warnf("unknown loglevel: %s . fall-backed to warn", level)
	}
	return l
}

// Discard returns a logger that drops everything
func Discard() *log.Logger {
	l := log.New("-")
	l.SetOutput(io.Discard)
	l.SetLevel(log.OFF)
	return l
}

// ParseLevel maps a level name onto gommon levels. Unknown names fall back to warn.
func ParseLevel(level string) (log.Lvl, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG, true
	case "info":
		return log.INFO, true
	case "warn", "":
		return log.WARN, true
	case "error":
		return log.ERROR, true
	case "off":
		return log.OFF, true
	}
	return log.WARN, false
}

// Attach makes e log through l
func Attach(e *echo.Echo, l *log.Logger) {
	e.Logger = l
}

// Requests logs each request and its response at info level
func Requests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		meth := c.Request().Method
		path := c.Request().URL
		BEGIN := time.Now()
		c.Logger().Infof("< request %s %s", meth, path)

		var err error
		defer func() {
			END := time.Now()
			c.Logger().Infof(
				"> response status = %d (for request %s %s) in %v / error = %v",
				c.Response().Status, meth, path, END.Sub(BEGIN), err,
			)
		}()

		err = next(c)
		return err
	}
}
