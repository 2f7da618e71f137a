package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"todolist/storage"
)

const (
	kindInvalidID   = "InvalidID"
	kindInvalidBody = "InvalidBody"
	kindNotFound    = "NotFound"
	kindStorage     = "StorageError"
)

type errorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// responder writes route results. In legacy mode every result, failures
// included, is written with status 200.
type responder struct {
	legacy bool
}

func (r responder) ok(c echo.Context, status int, body any) error {
	if r.legacy {
		status = http.StatusOK
	}
	return c.JSON(status, body)
}

func (r responder) fail(c echo.Context, err error) error {
	status, kind := classify(err)
	return r.ok(c, status, errorBody{Name: kind, Message: err.Error()})
}

func (r responder) invalidBody(c echo.Context, msg string) error {
	return r.ok(c, http.StatusBadRequest, errorBody{Name: kindInvalidBody, Message: msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrInvalidID):
		return http.StatusBadRequest, kindInvalidID
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, kindNotFound
	default:
		return http.StatusInternalServerError, kindStorage
	}
}
