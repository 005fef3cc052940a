package notify

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"time"
)

// OTPSubject is the subject line of every code email.
const OTPSubject = "Your OTP Code"

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

var otpHTML = template.Must(template.New("otp").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Your One-Time Password (OTP)</h2>
  <p>Use the following OTP to complete your verification:</p>
  <div style="background: #f4f4f4; padding: 20px; text-align: center; margin: 20px 0;">
    <h1 style="margin: 0; font-size: 32px; letter-spacing: 5px;">{{.Code}}</h1>
  </div>
  <p>This OTP is valid for {{.Validity}}.</p>
  <p>If you didn't request this, please ignore this email.</p>
  <hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
  <p style="color: #666; font-size: 12px;">This is an automated message, please do not reply.</p>
</div>`))

// NewOTPMessage renders the code email for to. ttl is shown to the reader
// rounded to whole minutes.
func NewOTPMessage(to, code string, ttl time.Duration) (Message, error) {
	if to == "" || code == "" {
		return Message{}, errors.New("otp message requires recipient and code")
	}

	var html bytes.Buffer
	err := otpHTML.Execute(&html, struct {
		Code     string
		Validity string
	}{
		Code:     code,
		Validity: validity(ttl),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render otp email: %w", err)
	}

	return Message{
		To:      to,
		Subject: OTPSubject,
		Text:    "Your OTP code is: " + code,
		HTML:    html.String(),
	}, nil
}

func validity(ttl time.Duration) string {
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	switch {
	case minutes <= 1:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}
