package main

import (
	"github.com/gin-gonic/gin"

	"github.com/arjunmehta/hlsvod/internal/apperr"
	"github.com/arjunmehta/hlsvod/internal/metrics"
)

// errorBody is the `error` half of the response envelope.
type errorBody struct {
	Code    apperr.Code            `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// envelope is the `{ statusCode, data, error }` shape every handler
// responds with.
type envelope struct {
	StatusCode int         `json:"statusCode"`
	Data       interface{} `json:"data,omitempty"`
	Error      *errorBody  `json:"error,omitempty"`
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, envelope{StatusCode: status, Data: data})
}

// respondError maps err to its apperr.Code (defaulting to an internal
// error for anything that isn't already typed) and writes it through the
// envelope, using apperr.HTTPStatus's single status table.
func respondError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.New(apperr.CodeInternalServerError, err.Error())
	}
	status := apperr.HTTPStatus(appErr.Code)
	metrics.RecordError("http", string(appErr.Code))
	c.JSON(status, envelope{
		StatusCode: status,
		Error: &errorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}

func badRequest(c *gin.Context, code apperr.Code, message string) {
	respondError(c, apperr.New(code, message))
}
