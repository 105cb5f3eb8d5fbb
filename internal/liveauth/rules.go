// internal/liveauth/rules.go
package liveauth

import (
	"regexp"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// Rule is a named extraction pattern. The first capture group of the first
// match is the extracted value.
type Rule struct {
	// Name identifies the rule in errors and logs.
	Name string
	// Missing is the reason reported when the marker is absent from a page.
	Missing string

	pattern *regexp.Regexp
}

// Find returns the first match of the rule in text.
func (r Rule) Find(text string) (string, bool) {
	m := r.pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var (
	// RuleWindowsLiveID locates the identity-provider redirect URL on the portal page.
	RuleWindowsLiveID = Rule{
		Name:    "windows_live_id",
		Missing: "Could not find variable 'WindowsLiveId' on Live login page",
		pattern: regexp.MustCompile(`"WindowsLiveId":"(.+?)"`),
	}
	// RulePPFT locates the anti-forgery token.
	RulePPFT = Rule{
		Name:    "ppft",
		Missing: "Could not find variable 'PPFT' on Live login page",
		pattern: regexp.MustCompile(`sFTTag:'.+value="(.+?)"`),
	}
	// RulePPSX locates the provider-state token, some prefix of "PassportRN".
	RulePPSX = Rule{
		Name:    "ppsx",
		Missing: "Could not find PassportRN variable on Live login page",
		pattern: regexp.MustCompile(`:'(Pa?s?s?p?o?r?t?R?N?)'`),
	}
	// RuleURLPost locates the credential submission URL.
	RuleURLPost = Rule{
		Name:    "url_post",
		Missing: "Could not find variable 'urlPost' on Live login page",
		pattern: regexp.MustCompile(`urlPost:'(.+?)'`),
	}
	// RuleFormAction locates the continue page form target.
	RuleFormAction = Rule{
		Name:    "form_action",
		Missing: "Could not find form action for continue page",
		pattern: regexp.MustCompile(`<form.+action="(.+?)"`),
	}

	hiddenInputPattern = regexp.MustCompile(`<input.+?name="(.+?)".+?value="(.+?)"`)
)

// HiddenFields collects every input name/value pair of a page in document order.
func HiddenFields(text string) *Form {
	form := NewForm()
	for _, m := range hiddenInputPattern.FindAllStringSubmatch(text, -1) {
		form.Set(m[1], m[2])
	}
	return form
}

// unescapeScriptString undoes the JSON/JS string escaping of a value lifted
// out of an inline script. Values that are not valid escapes are returned as-is.
func unescapeScriptString(raw string) string {
	quoted := `"` + raw + `"`

	var out string
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(quoted, &out); err == nil {
		return out
	}
	// \xNN escapes are valid JS but not JSON.
	if out, err := strconv.Unquote(quoted); err == nil {
		return out
	}
	return raw
}
