// Package scrape pulls the values the sign-in flow depends on out of HTML and
// inline script bodies.
//
// Two kinds of extraction are offered. Required extractions (EmbeddedJSON,
// FormField, FindForm) return an *ExtractionError when the document does not
// have the expected shape. Diagnostic extractions (Title, HeadingText, Text)
// return an Optional and never fail.
package scrape

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	errNotFound  = errors.New("not found")
	errNoValue   = errors.New("attribute missing")
	errTrailing  = errors.New("statement not terminated by ';'")
	errNotObject = errors.New("value is not a JSON object")
)

// ExtractionError reports a required value that was absent or malformed.
type ExtractionError struct {
	What string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.What, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Optional is the result of a best-effort extraction.
type Optional struct {
	Value string
	OK    bool
}

func (o Optional) String() string {
	if !o.OK {
		return "unknown"
	}
	return o.Value
}

// Or returns the value, or fallback when absent.
func (o Optional) Or(fallback string) string {
	if !o.OK {
		return fallback
	}
	return o.Value
}

// EmbeddedJSON locates "var <name> = {...};" in body and decodes the object.
func EmbeddedJSON(body []byte, name string) (map[string]interface{}, error) {
	what := "var " + name
	re, err := regexp.Compile(`var\s+` + regexp.QuoteMeta(name) + `\s*=\s*`)
	if err != nil {
		return nil, &ExtractionError{What: what, Err: err}
	}

	loc := re.FindIndex(body)
	if loc == nil {
		return nil, &ExtractionError{What: what, Err: errNotFound}
	}

	rest := body[loc[1]:]
	dec := json.NewDecoder(bytes.NewReader(rest))
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, &ExtractionError{What: what, Err: err}
	}
	if obj == nil {
		return nil, &ExtractionError{What: what, Err: errNotObject}
	}

	tail := bytes.TrimLeft(rest[dec.InputOffset():], " \t\r\n")
	if !bytes.HasPrefix(tail, []byte(";")) {
		return nil, &ExtractionError{What: what, Err: errTrailing}
	}
	return obj, nil
}

// Form is an HTML form reduced to its action and named input values.
type Form struct {
	ID     string
	Action string
	sel    *goquery.Selection
}

// FindForm returns the first form with the given id.
func FindForm(body []byte, formID string) (*Form, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ExtractionError{What: "form #" + formID, Err: err}
	}
	sel := doc.Find(fmt.Sprintf(`form[id=%q]`, formID)).First()
	if sel.Length() == 0 {
		return nil, &ExtractionError{What: "form #" + formID, Err: errNotFound}
	}
	action, _ := sel.Attr("action")
	return &Form{ID: formID, Action: action, sel: sel}, nil
}

// Field returns the value attribute of the named input.
func (f *Form) Field(name string) (string, error) {
	what := fmt.Sprintf("form #%s input %q", f.ID, name)
	input := f.sel.Find(fmt.Sprintf(`input[name=%q]`, name)).First()
	if input.Length() == 0 {
		return "", &ExtractionError{What: what, Err: errNotFound}
	}
	value, ok := input.Attr("value")
	if !ok {
		return "", &ExtractionError{What: what, Err: errNoValue}
	}
	return value, nil
}

// FormField is FindForm followed by Field.
func FormField(body []byte, formID, field string) (string, error) {
	form, err := FindForm(body, formID)
	if err != nil {
		return "", err
	}
	return form.Field(field)
}

// Text returns the trimmed text of the first element matching selector.
func Text(body []byte, selector string) Optional {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Optional{}
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return Optional{}
	}
	return Optional{Value: strings.TrimSpace(sel.Text()), OK: true}
}

// Title returns the document title.
func Title(body []byte) Optional {
	return Text(body, "title")
}

// HeadingText returns the first h1, restricted to class when it is not empty.
func HeadingText(body []byte, class string) Optional {
	if class == "" {
		return Text(body, "h1")
	}
	return Text(body, "h1."+class)
}
