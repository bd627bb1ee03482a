package crawler

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RawRecord is one listing entry exactly as the upstream returned it
type RawRecord map[string]any

const listingField = "arbitrageListVos"

var alternateListFields = []string{"data", "result", "list"}

var rateLimitPhrases = []string{
	"访问太过频繁",
	"请稍后再试",
	"too many requests",
	"rate limit",
}

func decodePayload(body []byte) (any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "could not decode upstream payload")
	}
	return payload, nil
}

// checkEnvelope applies the application-level checks: an error code first,
// then a throttling phrase in the message even when no code is set.
func checkEnvelope(payload any) error {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil
	}

	code := scalarString(obj["code"])
	msg := scalarString(obj["msg"])
	if msg == "" {
		msg = scalarString(obj["message"])
	}

	if code != "" && code != "200" && code != "0" {
		if msg == "" {
			msg = "unknown error"
		}
		return newApplicationError(code, msg)
	}

	if isRateLimitMessage(msg) {
		return newRateLimitError(msg)
	}

	return nil
}

func isRateLimitMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// extractListing negotiates the payload shape. It returns the records and the
// path they were found under; an empty path means nothing array-shaped was found.
func extractListing(payload any) ([]RawRecord, string) {
	if obj, ok := payload.(map[string]any); ok {
		if data, ok := obj["data"].(map[string]any); ok {
			if list, ok := data[listingField].([]any); ok {
				return toRecords(list), "data." + listingField
			}
		}
	}

	if list, ok := payload.([]any); ok {
		return toRecords(list), "$"
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, ""
	}

	for _, field := range alternateListFields {
		if list, ok := obj[field].([]any); ok {
			return toRecords(list), field
		}
	}

	if list, path := firstArray(obj, ""); list != nil {
		return toRecords(list), path
	}

	return nil, ""
}

// firstArray walks the object breadth first with sorted keys so the pick is
// deterministic.
func firstArray(obj map[string]any, prefix string) ([]any, string) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if list, ok := obj[k].([]any); ok {
			return list, prefix + k
		}
	}

	for _, k := range keys {
		if nested, ok := obj[k].(map[string]any); ok {
			if list, path := firstArray(nested, prefix+k+"."); list != nil {
				return list, path
			}
		}
	}

	return nil, ""
}

func toRecords(list []any) []RawRecord {
	records := make([]RawRecord, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			records = append(records, RawRecord(m))
		}
	}
	return records
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return ""
	}
	return ""
}
