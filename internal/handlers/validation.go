package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/breachrange/pkg/errors"
	"github.com/charlesng35/breachrange/pkg/response"
	appValidator "github.com/charlesng35/breachrange/pkg/validator"
)

const invalidPayload = "invalid request payload"

// bindAndValidate decodes the JSON body into dest and applies its validate tags.
// On failure a 400 envelope has already been written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	var failures appValidator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return invalidPayload
	}

	messages := make([]string, len(failures))
	for i, failure := range failures {
		messages[i] = describeFailure(failure)
	}
	return strings.Join(messages, "; ")
}

func describeFailure(failure appValidator.ValidationError) string {
	field := prettifyFieldName(failure.Field)

	switch failure.Tag {
	case "required":
		return field + " is required"
	case "len":
		return fmt.Sprintf("%s must be %s hex characters", field, failure.Param)
	case "hexstring":
		return field + " must contain only hex characters"
	case "":
		return field + " is invalid"
	}
	if failure.Param == "" {
		return fmt.Sprintf("%s failed validation: %s", field, failure.Tag)
	}
	return fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param)
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	return strings.ToLower(strings.ReplaceAll(name, "_", " "))
}
