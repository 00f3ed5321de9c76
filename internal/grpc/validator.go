package server

import (
	"fmt"
	"regexp"

	"github.com/tejusbharadwaj/esbmeter/internal/usage"
)

var mprnPattern = regexp.MustCompile(`^\d{11}$`)

type RequestValidator struct {
	validWindows map[string]usage.Window
}

func NewRequestValidator() *RequestValidator {
	v := &RequestValidator{validWindows: make(map[string]usage.Window, len(usage.Windows))}
	for _, w := range usage.Windows {
		v.validWindows[string(w)] = w
	}
	return v
}

// ValidateMPRN checks that mprn is an 11 digit meter point reference.
func (v *RequestValidator) ValidateMPRN(mprn string) error {
	if mprn == "" {
		return fmt.Errorf("missing mprn")
	}
	if !mprnPattern.MatchString(mprn) {
		return fmt.Errorf("invalid mprn: %s", mprn)
	}
	return nil
}

// ValidateWindow resolves a window name.
func (v *RequestValidator) ValidateWindow(name string) (usage.Window, error) {
	if name == "" {
		return "", fmt.Errorf("missing window")
	}
	w, ok := v.validWindows[name]
	if !ok {
		return "", fmt.Errorf("invalid window: %s", name)
	}
	return w, nil
}
