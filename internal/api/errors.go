package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"diet-planner/internal/shopping"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var conflict *shopping.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "current_version": conflict.CurrentVersion})
	case errors.Is(err, shopping.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, shopping.ErrVersionConflict), errors.Is(err, shopping.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, shopping.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// writeBindError reports a malformed request body or query.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed on %s", fieldName(fe), fe.Tag()))
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + strings.Join(fields, "; "), "fields": fields})
		return
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
	case errors.As(err, &typeErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid type for field %q", typeErr.Field)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
	}
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}
