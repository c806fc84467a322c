package scan

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// CodeExtractor is one strategy for pulling a unit identifier out of a
// raw scanner payload. Printed labels encode the id as bare text, a
// JSON blob, a hybrid "id#url" code or a full URL depending on the
// label generation the batch went through, so extraction is an ordered
// chain: the first strategy that recognizes the payload wins.
type CodeExtractor interface {
	Name() string
	Extract(payload string) (string, bool)
}

// jsonExtractor handles payloads that are JSON objects or arrays,
// looking up the id under a prioritized set of keys.
type jsonExtractor struct{}

var jsonIDKeys = []string{"id", "toyId", "uid", "_id"}

func (jsonExtractor) Name() string { return "json" }

func (jsonExtractor) Extract(payload string) (string, bool) {
	if !strings.HasPrefix(payload, "{") && !strings.HasPrefix(payload, "[") {
		return "", false
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return "", false
	}

	obj, ok := decoded.(map[string]interface{})
	if !ok {
		// some label printers wrap the object in a single-element array
		arr, isArr := decoded.([]interface{})
		if !isArr || len(arr) == 0 {
			return "", false
		}
		obj, ok = arr[0].(map[string]interface{})
		if !ok {
			return "", false
		}
	}

	for _, key := range jsonIDKeys {
		if v, present := obj[key]; present {
			if s, isStr := v.(string); isStr && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// hybridExtractor handles "ID#https://..." codes: keep the prefix when
// it is long enough to plausibly be an identifier.
type hybridExtractor struct{}

const minHybridIDLen = 10

func (hybridExtractor) Name() string { return "hybrid" }

func (hybridExtractor) Extract(payload string) (string, bool) {
	idx := strings.Index(payload, "#")
	if idx < minHybridIDLen {
		return "", false
	}
	return payload[:idx], true
}

// urlExtractor handles full URLs like https://erp.example/toy/<id>?src=qr.
type urlExtractor struct{}

func (urlExtractor) Name() string { return "url" }

func (urlExtractor) Extract(payload string) (string, bool) {
	idx := strings.Index(payload, "/toy/")
	if idx < 0 {
		return "", false
	}
	rest := payload[idx+len("/toy/"):]
	if cut := strings.IndexAny(rest, "?#"); cut >= 0 {
		rest = rest[:cut]
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return "", false
	}
	return rest, true
}

// uuidExtractor is the last resort: any UUID-shaped substring.
type uuidExtractor struct{}

var uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

func (uuidExtractor) Name() string { return "uuid" }

func (uuidExtractor) Extract(payload string) (string, bool) {
	if m := uuidPattern.FindString(payload); m != "" {
		return m, true
	}
	return "", false
}

var extractorChain = []CodeExtractor{
	jsonExtractor{},
	hybridExtractor{},
	urlExtractor{},
	uuidExtractor{},
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Normalize reduces a raw scanner payload to a candidate identifier.
// Control characters are stripped first; then the extractor chain runs
// in order, and the cleaned payload itself is the final fallback.
func Normalize(raw string) string {
	payload := strings.TrimSpace(stripControl(raw))
	for _, ex := range extractorChain {
		if code, ok := ex.Extract(payload); ok {
			return strings.TrimSpace(code)
		}
	}
	return payload
}
