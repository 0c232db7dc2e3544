package contact

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Form field names.
const (
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldEmail     = "email"
	FieldPhone     = "phone"
	FieldMessage   = "message"
	FieldWebsite   = "website" // honeypot
	FieldCaptcha   = "captcha"

	fieldCaptchaID       = "captchaId"
	fieldCaptchaSolution = "captchaSolution"
)

// Kind classifies a field violation. Presentation text lives in the catalogs.
type Kind int

const (
	Empty Kind = iota + 1
	Malformed
	TooShort
	TooLong
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Malformed:
		return "malformed"
	case TooShort:
		return "too-short"
	case TooLong:
		return "too-long"
	}
	return "unknown"
}

// FieldError is one violation.
type FieldError struct {
	Field string
	Kind  Kind
}

// Violations keeps every violation in the order it was found.
type Violations []FieldError

// Kind reports the violation recorded for field, if any.
func (v Violations) Kind(field string) (Kind, bool) {
	for _, fe := range v {
		if fe.Field == field {
			return fe.Kind, true
		}
	}
	return 0, false
}

func (v Violations) Has(field string) bool {
	_, ok := v.Kind(field)
	return ok
}

// Fields lists the violated field names, for logs.
func (v Violations) Fields() []string {
	out := make([]string, len(v))
	for i, fe := range v {
		out[i] = fe.Field
	}
	return out
}

// Submission is one contact form post. It only lives for the request.
type Submission struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Message   string
	Website   string
}

// Clean returns s with every field sanitized.
func (s Submission) Clean() Submission {
	return Submission{
		FirstName: CleanText(s.FirstName),
		LastName:  CleanText(s.LastName),
		Email:     CleanEmail(s.Email),
		Phone:     CleanText(s.Phone),
		Message:   CleanText(s.Message),
		Website:   CleanText(s.Website),
	}
}

// FullName is "First Last".
func (s Submission) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Limits caps field lengths in runes. Zero disables a cap.
type Limits struct {
	MaxName    int
	MaxMessage int
}

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9()\-\s]{6,}$`)
	phoneChars   = regexp.MustCompile(`^\+?[0-9()\-\s]*$`)
)

// Validate checks an already cleaned submission and reports all violations at once.
func Validate(s Submission, lim Limits) Violations {
	var v Violations
	required := func(field, value string, max int) {
		switch {
		case value == "":
			v = append(v, FieldError{field, Empty})
		case max > 0 && utf8.RuneCountInString(value) > max:
			v = append(v, FieldError{field, TooLong})
		}
	}
	required(FieldFirstName, s.FirstName, lim.MaxName)
	required(FieldLastName, s.LastName, lim.MaxName)
	required(FieldMessage, s.Message, lim.MaxMessage)

	switch {
	case s.Email == "":
		v = append(v, FieldError{FieldEmail, Empty})
	case !ValidEmail(s.Email):
		v = append(v, FieldError{FieldEmail, Malformed})
	}

	if s.Phone != "" && !phonePattern.MatchString(s.Phone) {
		if phoneChars.MatchString(s.Phone) {
			v = append(v, FieldError{FieldPhone, TooShort})
		} else {
			v = append(v, FieldError{FieldPhone, Malformed})
		}
	}
	return v
}

// ValidEmail accepts a bare addr-spec (no display name, no comments) whose domain is a
// dotted hostname.
func ValidEmail(s string) bool {
	if len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	if at < 1 || at > 64 {
		return false
	}
	// no SMTPUTF8: local parts are ASCII only
	for i := 0; i < at; i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	labels := strings.Split(s[at+1:], ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if !validLabel(l) {
			return false
		}
	}
	return true
}

func validLabel(l string) bool {
	if l == "" || len(l) > 63 || l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}
