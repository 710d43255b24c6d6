package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

func writeEnvelope(c echo.Context, status int, env Envelope) error {
	env.Status = status
	env.Message = http.StatusText(status)
	return c.JSON(status, env)
}

// SuccessResponse writes data with 200.
func SuccessResponse(c echo.Context, data any) error {
	return writeEnvelope(c, http.StatusOK, Envelope{Data: data})
}

// ListResponse writes rows and their total with 200.
func ListResponse(c echo.Context, rows any, total int64) error {
	return SuccessResponse(c, Page{Rows: rows, Total: total})
}

// BadRequestResponse writes field errors with 400.
func BadRequestResponse(c echo.Context, errs []ValidationError) error {
	return writeEnvelope(c, http.StatusBadRequest, Envelope{Errors: errs})
}

// AppErrorResponse writes err with its own status. Anything that is not an
// *AppError becomes a generic 500 so internals never leak.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError("something went wrong")
	}
	return writeEnvelope(c, appErr.Status, Envelope{Errors: []*AppError{appErr}})
}
