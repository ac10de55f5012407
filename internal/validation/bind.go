package validation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate binds JSON body into `out` and runs validation.
// If validation fails, it writes a 400 {message} response and returns an error for the handler to short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body: " + err.Error()})
		return err
	}

	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "validation failed: " + describe(err),
			"fields":  validationErrorsToMap(err),
		})
		return err
	}
	return nil
}

func describe(err error) string {
	fields := validationErrorsToMap(err)
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, k+" "+v)
	}
	return strings.Join(parts, "; ")
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validatorv10.ValidationErrors); ok {
		for _, fe := range ve {
			out[fe.Field()] = reason(fe)
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
