package mail

import (
	"html"
	"strconv"
	"strings"
)

const otpSubject = "Your verification code for {{COMPANY_NAME}}"

const otpTemplate = `<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #222;">
    <h2>Confirm your claim for {{COMPANY_NAME}}</h2>
    <p>Use the code below to verify your business email address. It expires in {{TTL_MINUTES}} minutes.</p>
    <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{OTP}}</p>
    <p>If you did not request this code you can ignore this email.</p>
    <p style="color: #888; font-size: 12px;">&copy; {{YEAR}}</p>
  </body>
</html>
`

// Render fills the subject and HTML body. Values are HTML-escaped.
func Render(vars Vars) (subject, body string) {
	r := strings.NewReplacer(
		"{{OTP}}", html.EscapeString(vars.OTP),
		"{{COMPANY_NAME}}", html.EscapeString(vars.CompanyName),
		"{{YEAR}}", strconv.Itoa(vars.Year),
		"{{TTL_MINUTES}}", strconv.Itoa(ttlMinutes(vars.TTLMinutes)),
	)
	// Subject is a header, not HTML.
	subjectR := strings.NewReplacer("{{COMPANY_NAME}}", stripNewlines(vars.CompanyName))
	return subjectR.Replace(otpSubject), r.Replace(otpTemplate)
}

// defaultTTLMinutes matches the default OTP_TTL.
const defaultTTLMinutes = 60

func ttlMinutes(m int) int {
	if m <= 0 {
		return defaultTTLMinutes
	}
	return m
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
