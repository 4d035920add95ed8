package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/threadlock"
)

// writeError maps a handful of known sentinel errors to their HTTP
// status, falling back to 500 for anything this package doesn't
// recognize — most internal errors are wrapped with fmt.Errorf rather
// than carrying a sentinel, so this list is deliberately short.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, providerevent.ErrBadSignature):
		status = http.StatusUnauthorized
	case errors.Is(err, providerevent.ErrMissingInstanceID):
		status = http.StatusBadRequest
	case errors.Is(err, threadlock.ErrRunInProgress):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
