package request

import (
	"strings"

	"medialoader/internal/errs"
	"medialoader/pkg/urls"
)

type CreateDownload struct {
	URL string `json:"url"`
}

func (c *CreateDownload) Validate() error {
	c.URL = urls.Normalize(c.URL)
	if !urls.IsURLValid(c.URL) {
		return errs.ErrInvalidURL
	}

	return nil
}

type ValidateOTP struct {
	OTP string `json:"otp"`
}

func (v *ValidateOTP) Validate() error {
	v.OTP = strings.TrimSpace(v.OTP)
	if v.OTP == "" {
		return errs.ErrInvalidOTP
	}

	return nil
}
