package scoring

import (
	"regexp"
	"strings"

	"github.com/lendguard/fraud-engine/internal/models"
)

// fakeDataRule matches one field of an application against a heuristic for
// fabricated intake data.
type fakeDataRule struct {
	name    string
	field   func(app *models.LoanApplication) string
	pattern *regexp.Regexp
	reason  string
}

var fakeDataRules = []fakeDataRule{
	{
		name:    "test_email",
		field:   func(app *models.LoanApplication) string { return app.Email },
		pattern: regexp.MustCompile(`(?i)^test.*@.*\.com$`),
		reason:  "Email matches a known test pattern",
	},
	{
		name:    "throwaway_email_domain",
		field:   func(app *models.LoanApplication) string { return app.Email },
		pattern: regexp.MustCompile(`(?i)@(example|mailinator|tempmail|guerrillamail|fakemail)\.`),
		reason:  "Email uses a throwaway domain",
	},
	{
		name:    "keyboard_email",
		field:   func(app *models.LoanApplication) string { return app.Email },
		pattern: regexp.MustCompile(`(?i)^(asdf|qwerty|abc123|aaa+)[^@]*@`),
		reason:  "Email local part looks like keyboard mashing",
	},
	{
		name:    "repeated_digit_phone",
		field:   func(app *models.LoanApplication) string { return app.Phone },
		pattern: regexp.MustCompile(`^\+?(0{7,}|1{7,}|2{7,}|3{7,}|4{7,}|5{7,}|6{7,}|7{7,}|8{7,}|9{7,})$`),
		reason:  "Phone number is a single repeated digit",
	},
	{
		name:    "sequential_phone",
		field:   func(app *models.LoanApplication) string { return app.Phone },
		pattern: regexp.MustCompile(`(?:0123456|1234567|2345678|3456789|9876543|8765432|7654321)`),
		reason:  "Phone number is a sequential run",
	},
	{
		name:    "placeholder_name",
		field:   func(app *models.LoanApplication) string { return app.FullName },
		pattern: regexp.MustCompile(`(?i)^(test(ing)?|fake|asdf|qwerty|n/?a|none|unknown|anonymous|(john|jane) doe)$`),
		reason:  "Full name is a common placeholder",
	},
	{
		name:    "date_shaped_name",
		field:   func(app *models.LoanApplication) string { return app.FullName },
		pattern: regexp.MustCompile(`^\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}$`),
		reason:  "Full name is shaped like a date",
	},
}

// DetectFakeData returns one reason per heuristic that matched the
// application's email, phone, or name.
func DetectFakeData(app *models.LoanApplication) []string {
	var reasons []string
	for _, rule := range fakeDataRules {
		value := strings.TrimSpace(rule.field(app))
		if value == "" {
			continue
		}
		if rule.pattern.MatchString(value) {
			reasons = append(reasons, rule.reason)
		}
	}
	return reasons
}

var trailingDigits = regexp.MustCompile(`\d+$`)

// EmailLocalBase lowercases an email's local part and strips any trailing
// digits, so jdoe7@x.com and jdoe12@y.org compare equal. Returns "" when the
// address has no usable local part.
func EmailLocalBase(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	local := strings.ToLower(email[:at])
	return trailingDigits.ReplaceAllString(local, "")
}
