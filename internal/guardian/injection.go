package guardian

import (
	"encoding/json"
	"regexp"
)

// injectionPatterns are heuristic prompt-injection markers: instructions
// embedded in tool-call arguments that try to redirect the agent (§4.4
// step 3). Matched case-insensitively against string argument values.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`),
	regexp.MustCompile(`(?i)disregard (the|your) (system|safety) prompt`),
	regexp.MustCompile(`(?i)you are now (in )?(developer|debug|unrestricted) mode`),
	regexp.MustCompile(`(?i)reveal (your|the) (system prompt|hidden instructions)`),
	regexp.MustCompile(`(?i)do not (tell|inform|notify) the user`),
}

// InjectionThreshold is the number of independent pattern matches required
// before the scan denies the call (§4.4 step 3: "above the configured
// threshold").
const InjectionThreshold = 1

// ScanForInjection walks every string value in the raw JSON arguments and
// reports whether the combined match count meets InjectionThreshold.
func ScanForInjection(arguments json.RawMessage) (suspicious bool, matched []string) {
	var generic any
	if len(arguments) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(arguments, &generic); err != nil {
		return false, nil
	}

	count := 0
	walkStrings(generic, func(s string) {
		for _, pattern := range injectionPatterns {
			if pattern.MatchString(s) {
				count++
				matched = append(matched, pattern.String())
			}
		}
	})

	return count >= InjectionThreshold, matched
}

func walkStrings(v any, visit func(string)) {
	switch t := v.(type) {
	case string:
		visit(t)
	case []any:
		for _, item := range t {
			walkStrings(item, visit)
		}
	case map[string]any:
		for _, item := range t {
			walkStrings(item, visit)
		}
	}
}
