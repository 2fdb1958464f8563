package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorCase maps a sentinel error to a status code and client-safe message.
// RetryAfter, when set, is advertised in the Retry-After header.
type ErrorCase struct {
	Err        error
	Status     int
	Message    string
	RetryAfter time.Duration
}

// RespondWithMappedError answers with the first case err matches, or the fallback.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil || !errors.Is(err, cs.Err) {
			continue
		}
		if cs.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(cs.RetryAfter.Round(time.Second)/time.Second)))
		}
		c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
		return
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
