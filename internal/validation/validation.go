package validation

import (
	"fmt"
	"mime"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Report json field names instead of Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	// Register custom validation functions
	if err := validate.RegisterValidation("videomime", validateVideoMime); err != nil {
		panic(fmt.Sprintf("failed to register videomime validation: %v", err))
	}
	if err := validate.RegisterValidation("destdir", validateDestDir); err != nil {
		panic(fmt.Sprintf("failed to register destdir validation: %v", err))
	}
	if err := validate.RegisterValidation("filename", validateFileName); err != nil {
		panic(fmt.Sprintf("failed to register filename validation: %v", err))
	}
}

// Validate validates a struct using tags
func Validate(s interface{}) error {
	return validate.Struct(s)
}

// ValidateDestDir validates a destination directory separately
func ValidateDestDir(dir string) error {
	return validate.Var(dir, "destdir")
}

// ValidateVideoMime validates a MIME type separately
func ValidateVideoMime(mimeType string) error {
	return validate.Var(mimeType, "required,videomime")
}

// Custom validation functions

func validateVideoMime(fl validator.FieldLevel) bool {
	mediaType, _, err := mime.ParseMediaType(fl.Field().String())
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "video/") && len(mediaType) > len("video/")
}

func validateDestDir(fl validator.FieldLevel) bool {
	dir := fl.Field().String()

	// Destination requirements:
	// - Empty means the configured default
	// - Relative, slash separated, no parent references
	// - Segments made of letters, numbers, underscores, hyphens and dots
	if dir == "" {
		return true
	}
	if len(dir) > 200 || strings.HasPrefix(dir, "/") || strings.Contains(dir, "\\") {
		return false
	}

	for _, segment := range strings.Split(strings.TrimSuffix(dir, "/"), "/") {
		if segment == "" || segment == "." || segment == ".." {
			return false
		}
		for _, char := range segment {
			if !unicode.IsLetter(char) && !unicode.IsNumber(char) && char != '_' && char != '-' && char != '.' {
				return false
			}
		}
	}

	return true
}

func validateFileName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" || len(name) > 255 {
		return false
	}
	return !strings.ContainsRune(name, 0)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// FormatError formats a validation error into a human-readable message
func FormatError(err error) []ValidationError {
	var validationErrors []ValidationError

	if err == nil {
		return validationErrors
	}

	// Type assert to validator.ValidationErrors
	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range errs {
			var message string

			switch e.Tag() {
			case "required":
				message = fmt.Sprintf("%s is required", e.Field())
			case "gt", "min":
				message = fmt.Sprintf("%s must be greater than %s", e.Field(), e.Param())
			case "lte", "max":
				message = fmt.Sprintf("%s must not exceed %s", e.Field(), e.Param())
			case "videomime":
				message = "Content type must be a video MIME type"
			case "destdir":
				message = "Destination must be a relative directory without parent references"
			case "filename":
				message = "File name must be 1-255 characters long"
			default:
				message = fmt.Sprintf("Invalid value for %s", e.Field())
			}

			validationErrors = append(validationErrors, ValidationError{
				Field: strings.ToLower(e.Field()),
				Error: message,
			})
		}
	}

	return validationErrors
}

// Summary joins FormatError messages into a single line
func Summary(err error) string {
	formatted := FormatError(err)
	if len(formatted) == 0 {
		if err != nil {
			return err.Error()
		}
		return ""
	}
	messages := make([]string, 0, len(formatted))
	for _, f := range formatted {
		messages = append(messages, f.Error)
	}
	return strings.Join(messages, "; ")
}
