// Package i18n renders user-facing messages for domain error codes.
//
// User-facing messages are a separate artifact from the internal error text:
// they never contain raw exception text or protocol jargon, and they always
// tell the player what to do next.
package i18n

import (
	"bytes"
	"text/template"
)

// Code is a machine-readable error code (duplicated from errors package to avoid cycle).
type Code = string

// Catalog maps error codes to message templates for a specific locale.
type Catalog struct {
	locale   string
	messages map[Code]string
}

// NewCatalog builds a catalog from a locale and message map.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	return &Catalog{locale: locale, messages: messages}
}

// Default returns the en-US catalog.
func Default() *Catalog {
	return enUSCatalog
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message template with the given metadata.
// Falls back to a generic actionable message if no template is found.
// Templates are always executed even with nil/empty metadata so template
// variables without metadata render as empty rather than failing.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	tmpl, ok := c.messages[code]
	if !ok {
		return genericMessage
	}

	if metadata == nil {
		metadata = map[string]string{}
	}

	t, err := template.New("msg").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return tmpl
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, metadata); err != nil {
		return tmpl
	}
	return buf.String()
}

const genericMessage = "Something went wrong. Please try again, or refresh the page if the problem persists."
