package validation

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

// TestValidatorInit ensures all custom validations are registered
func TestValidatorInit(t *testing.T) {
	validate := validator.New()

	assert.NotPanics(t, func() {
		err := validate.RegisterValidation("videomime", validateVideoMime)
		assert.NoError(t, err)
	})
	assert.NotPanics(t, func() {
		err := validate.RegisterValidation("destdir", validateDestDir)
		assert.NoError(t, err)
	})
	assert.NotPanics(t, func() {
		err := validate.RegisterValidation("filename", validateFileName)
		assert.NoError(t, err)
	})
}

func TestValidateVideoMime(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		wantErr  bool
	}{
		{"MP4", "video/mp4", false},
		{"With parameters", "video/webm; codecs=vp9", false},
		{"Image", "image/png", true},
		{"Bare prefix", "video/", true},
		{"Empty", "", true},
		{"Garbage", "not a mime", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVideoMime(tt.mimeType)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDestDir(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{"Empty uses default", "", false},
		{"Simple", "videos", false},
		{"Nested", "videos/2024-05", false},
		{"Trailing slash", "videos/", false},
		{"Absolute", "/etc", true},
		{"Parent reference", "videos/../secrets", true},
		{"Dot segment", "./videos", true},
		{"Backslash", `videos\clips`, true},
		{"Invalid chars", "videos/<script>", true},
		{"Double slash", "videos//clips", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDestDir(tt.dir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFormatError(t *testing.T) {
	type request struct {
		FileName string `json:"file_name" validate:"required,filename"`
		FileSize int64  `json:"file_size" validate:"gt=0"`
		MimeType string `json:"mime_type" validate:"required,videomime"`
	}

	err := Validate(request{FileName: "", FileSize: 0, MimeType: "image/png"})
	formatted := FormatError(err)

	assert.Len(t, formatted, 3)
	fields := map[string]string{}
	for _, f := range formatted {
		fields[f.Field] = f.Error
	}
	assert.Equal(t, "file_name is required", fields["file_name"])
	assert.Equal(t, "file_size must be greater than 0", fields["file_size"])
	assert.Equal(t, "Content type must be a video MIME type", fields["mime_type"])

	assert.Empty(t, FormatError(nil))
	assert.Contains(t, Summary(err), "file_name is required")
}
