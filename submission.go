package platemate

import (
	"errors"

	v "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/chriskillpack/platemate/internal/imaging"
)

// MaxPromptLen is the longest prompt accepted, in bytes.
const MaxPromptLen = 2000

// ErrNoImage is returned when a submission has no image attached.
var ErrNoImage = errors.New("no image uploaded")

// Submission is one (prompt, image) pair entered by a user.
type Submission struct {
	Prompt   string
	MIMEType string
	Image    []byte
}

// Validate checks the submission. A missing image is reported as ErrNoImage so
// callers can show it without inspecting the other fields.
func (s Submission) Validate() error {
	if len(s.Image) == 0 {
		return ErrNoImage
	}

	return v.ValidateStruct(&s,
		v.Field(&s.Prompt, v.Length(0, MaxPromptLen)),
		v.Field(&s.MIMEType, v.Required, v.By(func(value any) error {
			if !imaging.Allowed(value.(string)) {
				return errors.New("must be a JPEG or PNG image")
			}
			return nil
		})),
	)
}
