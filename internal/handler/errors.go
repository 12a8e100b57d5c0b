package handler

import (
	"net/http"

	"admin-console/prometheus"

	"github.com/labstack/echo/v4"
)

// fieldErrors maps a form field name to its validation messages. It is the
// payload shape of every 422 response, so the console can bind messages back
// onto the originating form's fields.
type fieldErrors map[string][]string

func (fe fieldErrors) add(field, message string) {
	fe[field] = append(fe[field], message)
}

func (fe fieldErrors) empty() bool {
	return len(fe) == 0
}

// validationFailed answers 422 with the field->messages mapping.
func validationFailed(c echo.Context, entity string, errs fieldErrors) error {
	prometheus.RecordValidationError(entity)
	return c.JSON(http.StatusUnprocessableEntity, echo.Map{"errors": errs})
}
