package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"TradeAlchemist/pkg/logger"

	"github.com/labstack/echo/v4"
)

const maxStack = 4 << 10

// Recover converts a handler panic into a 500 handled by echo's error handler.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				stack := make([]byte, maxStack)
				stack = stack[:runtime.Stack(stack, false)]
				l.Error("handler panic",
					logger.String("method", c.Request().Method),
					logger.String("route", c.Path()),
					logger.String("panic", fmt.Sprint(r)),
					logger.String("stack", string(stack)),
				)
				err = echo.NewHTTPError(http.StatusInternalServerError)
			}()
			return next(c)
		}
	}
}
