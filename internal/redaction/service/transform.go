package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"archivegate/internal/records"
	"archivegate/internal/redaction/models"
)

const redactedMarker = "[REDACTED]"

var dateLayouts = []string{time.RFC3339, "2006-01-02", "01/02/2006", "1/2/2006", "01/02/06", "1/2/06"}

// hashToken renders the keyed, truncated digest that replaces hashed text.
// The same input under the same key always yields the same token, so hashed
// entities stay linkable across records without being readable.
func hashToken(key []byte, text string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(text))
	return "[REDACTED_" + hex.EncodeToString(mac.Sum(nil))[:8] + "]"
}

func maskText(text string, rule models.Rule) string {
	if !rule.KeepsLength() {
		return redactedMarker
	}
	n := len([]rune(text))
	return strings.Repeat(string(rule.MaskRune()), n)
}

func generalizeText(text string) string {
	trimmed := strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return strconv.Itoa(t.Year())
		}
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return decadeBucket(n)
	}
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return string(r) + "*"
		}
		break
	}
	return "*"
}

func decadeBucket(n float64) string {
	lo := int64(math.Floor(n/10)) * 10
	return fmt.Sprintf("%d-%d", lo, lo+9)
}

// applyText rewrites a span of text with the given action. Drop removes it.
func applyText(action models.Action, rule models.Rule, key []byte, text string) string {
	switch action {
	case models.ActionMask:
		return maskText(text, rule)
	case models.ActionHash:
		return hashToken(key, text)
	case models.ActionGeneralize:
		return generalizeText(text)
	case models.ActionDrop:
		return ""
	}
	return text
}

// applyStructured rewrites a whole non-text value.
func applyStructured(action models.Action, rule models.Rule, key []byte, v records.Value, text string) records.Value {
	switch action {
	case models.ActionMask:
		return records.String(maskText(text, rule))
	case models.ActionHash:
		return records.String(hashToken(key, text))
	case models.ActionGeneralize:
		return generalizeValue(v)
	}
	return v
}

func generalizeValue(v records.Value) records.Value {
	switch v.Kind {
	case records.KindInt:
		return records.String(decadeBucket(float64(v.Int)))
	case records.KindFloat:
		return records.String(decadeBucket(v.Float))
	case records.KindTime:
		return records.Int(int64(v.Time.Year()))
	case records.KindBool:
		return records.String("*")
	case records.KindList:
		out := make([]records.Value, len(v.List))
		for i, item := range v.List {
			out[i] = generalizeValue(item)
		}
		return records.List(out...)
	}
	return records.String(generalizeText(v.Str))
}
