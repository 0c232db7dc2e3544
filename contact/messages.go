package contact

import (
	"fmt"
	"net/http"

	"golang.org/x/text/language"
)

type text int

const (
	textThanks text = iota
	textTooSoon
	textBadMethod
	textCrossOrigin
	textBadRequest
	textFixErrors
	textUndelivered // takes the destination address
)

type fieldKind struct {
	field string
	kind  Kind
}

// catalog is the user-facing wording for one language. Field messages are looked up by
// (field, kind) first, then by field alone.
type catalog struct {
	tag    language.Tag
	texts  map[text]string
	fields map[string]string
	kinds  map[fieldKind]string
}

func (c *catalog) text(t text, args ...interface{}) string {
	s := c.texts[t]
	if len(args) > 0 {
		return fmt.Sprintf(s, args...)
	}
	return s
}

func (c *catalog) field(fe FieldError) string {
	if s, ok := c.kinds[fieldKind{fe.Field, fe.Kind}]; ok {
		return s
	}
	if s, ok := c.fields[fe.Field]; ok {
		return s
	}
	return c.texts[textFixErrors]
}

func (c *catalog) errors(v Violations) map[string]string {
	out := make(map[string]string, len(v))
	for _, fe := range v {
		out[fe.Field] = c.field(fe)
	}
	return out
}

var russian = &catalog{
	tag: language.Russian,
	texts: map[text]string{
		textThanks:      "Спасибо! Ваше сообщение отправлено.",
		textTooSoon:     "Пожалуйста, подождите немного перед повторной отправкой.",
		textBadMethod:   "Неверный метод запроса.",
		textCrossOrigin: "Запросы с других сайтов запрещены.",
		textBadRequest:  "Некорректный запрос.",
		textFixErrors:   "Пожалуйста, исправьте ошибки и попробуйте снова.",
		textUndelivered: "Не удалось отправить письмо. Свяжитесь с нами напрямую: %s",
	},
	fields: map[string]string{
		FieldFirstName: "Введите имя.",
		FieldLastName:  "Введите фамилию.",
		FieldMessage:   "Введите сообщение.",
		FieldEmail:     "Введите корректный email.",
		FieldPhone:     "Введите корректный номер телефона.",
		FieldCaptcha:   "Введите символы с картинки.",
	},
	kinds: map[fieldKind]string{
		{FieldFirstName, TooLong}: "Имя слишком длинное.",
		{FieldLastName, TooLong}:  "Фамилия слишком длинная.",
		{FieldMessage, TooLong}:   "Сообщение слишком длинное.",
		{FieldCaptcha, Malformed}: "Символы с картинки введены неверно.",
	},
}

var english = &catalog{
	tag: language.English,
	texts: map[text]string{
		textThanks:      "Thank you! Your message has been sent.",
		textTooSoon:     "Please wait a bit before submitting again.",
		textBadMethod:   "Invalid request method.",
		textCrossOrigin: "Cross-origin requests are not allowed.",
		textBadRequest:  "Invalid request.",
		textFixErrors:   "Please fix the errors and try again.",
		textUndelivered: "Could not send the message. Please contact us directly: %s",
	},
	fields: map[string]string{
		FieldFirstName: "Enter your first name.",
		FieldLastName:  "Enter your last name.",
		FieldMessage:   "Enter a message.",
		FieldEmail:     "Enter a valid email address.",
		FieldPhone:     "Enter a valid phone number.",
		FieldCaptcha:   "Enter the characters from the image.",
	},
	kinds: map[fieldKind]string{
		{FieldFirstName, TooLong}: "First name is too long.",
		{FieldLastName, TooLong}:  "Last name is too long.",
		{FieldMessage, TooLong}:   "Message is too long.",
		{FieldCaptcha, Malformed}: "The characters from the image do not match.",
	},
}

// catalogs and supported share indexes.
var (
	catalogs  = []*catalog{russian, english}
	supported = []language.Tag{language.Russian, language.English}
	matcher   = language.NewMatcher(supported)
)

// lookupCatalog returns the catalog for a configured locale such as "ru" or "en-GB".
func lookupCatalog(locale string) (*catalog, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("bad locale %q: %w", locale, err)
	}
	_, i, conf := matcher.Match(tag)
	if conf == language.No {
		return nil, fmt.Errorf("unsupported locale %q", locale)
	}
	return catalogs[i], nil
}

// catalogFor picks the catalog from Accept-Language, or the fallback.
func catalogFor(r *http.Request, fallback *catalog) *catalog {
	accept := r.Header.Get("Accept-Language")
	if accept == "" {
		return fallback
	}
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, i, conf := matcher.Match(tags...)
	if conf == language.No {
		return fallback
	}
	return catalogs[i]
}
