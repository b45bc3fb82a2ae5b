package attempt

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// SelectedIDs decodes from either a JSON array or a delimited string such as
// "3, 5;7". Tokens that are not positive integers are dropped and
// duplicates collapse; the result is sorted.
type SelectedIDs []int64

func (s *SelectedIDs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		*s = ParseSelectedIDs(raw)
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	tokens := make([]string, 0, len(items))
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			tokens = append(tokens, str)
			continue
		}
		tokens = append(tokens, string(item))
	}
	*s = normalizeTokens(tokens)
	return nil
}

// ParseSelectedIDs splits on commas, semicolons and whitespace.
func ParseSelectedIDs(raw string) []int64 {
	return normalizeTokens(strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	}))
}

func normalizeTokens(tokens []string) []int64 {
	seen := make(map[int64]struct{}, len(tokens))
	out := make([]int64, 0, len(tokens))
	for _, tok := range tokens {
		id, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// formatSelectedIDs is the stored form of a selection.
func formatSelectedIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range normalizeIDs(ids) {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func normalizeIDs(ids []int64) []int64 {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tokens = append(tokens, strconv.FormatInt(id, 10))
	}
	return normalizeTokens(tokens)
}
