package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lendguard/fraud-engine/internal/models"
	"github.com/lendguard/fraud-engine/internal/scoring"
)

func TestDetectFakeData_TestEmails(t *testing.T) {
	tests := []struct {
		email   string
		matched bool
	}{
		{"test123@foo.com", true},
		{"tester.account@anything.com", true},
		{"someone@mailinator.org", true},
		{"qwerty99@gmail.com", true},
		{"grace.okafor@gmail.com", false},
		{"contest@winner.com", false}, // "test" not at the start
	}

	for _, tt := range tests {
		app := &models.LoanApplication{Email: tt.email}
		reasons := scoring.DetectFakeData(app)
		if tt.matched {
			assert.NotEmpty(t, reasons, "email %q should match", tt.email)
		} else {
			assert.Empty(t, reasons, "email %q should not match", tt.email)
		}
	}
}

func TestDetectFakeData_PlaceholderPhones(t *testing.T) {
	tests := []struct {
		phone   string
		matched bool
	}{
		{"0000000000", true},
		{"+1111111111", true},
		{"7777777", true},     // seven repeats is the floor
		{"666666", false},     // six repeats is below it
		{"08012345678", true}, // sequential run inside
		{"+2348031224567", false},
	}

	for _, tt := range tests {
		app := &models.LoanApplication{Phone: tt.phone}
		reasons := scoring.DetectFakeData(app)
		if tt.matched {
			assert.NotEmpty(t, reasons, "phone %q should match", tt.phone)
		} else {
			assert.Empty(t, reasons, "phone %q should not match", tt.phone)
		}
	}
}

func TestDetectFakeData_PlaceholderNames(t *testing.T) {
	tests := []struct {
		name    string
		matched bool
	}{
		{"Test", true},
		{"john doe", true},
		{"Jane Doe", true},
		{"N/A", true},
		{"2024-01-15", true}, // date-shaped
		{"01/02/1990", true},
		{"Grace Okafor", false},
		{"Doe John", false},
	}

	for _, tt := range tests {
		app := &models.LoanApplication{FullName: tt.name}
		reasons := scoring.DetectFakeData(app)
		if tt.matched {
			assert.NotEmpty(t, reasons, "name %q should match", tt.name)
		} else {
			assert.Empty(t, reasons, "name %q should not match", tt.name)
		}
	}
}

func TestDetectFakeData_MultipleReasons(t *testing.T) {
	app := &models.LoanApplication{
		FullName: "Test",
		Email:    "test@fake.com",
		Phone:    "1111111111",
	}

	reasons := scoring.DetectFakeData(app)
	assert.GreaterOrEqual(t, len(reasons), 3)
}

func TestDetectFakeData_EmptyFieldsSkipped(t *testing.T) {
	assert.Empty(t, scoring.DetectFakeData(&models.LoanApplication{}))
}

func TestEmailLocalBase(t *testing.T) {
	tests := []struct {
		email    string
		expected string
	}{
		{"jdoe7@example.com", "jdoe"},
		{"JDoe12@other.org", "jdoe"},
		{"jdoe@example.com", "jdoe"},
		{"plain", ""},
		{"@nodomain.com", ""},
		{"12345@digits.com", ""}, // all-digit local part strips to nothing
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, scoring.EmailLocalBase(tt.email), "email %q", tt.email)
	}
}
