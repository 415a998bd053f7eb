package source

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Record — одна запись источника.
type Record struct {
	// Fields — значения полей в исходном виде (string, json.Number, bool, nil, ...).
	Fields map[string]any

	// Raw — исходная запись целиком для структурированных источников (JSON/YAML).
	// Nil для CSV.
	Raw *string
}

// candidates возвращает ключи, подходящие под имя, в порядке приоритета:
// точное совпадение, lowerCamel-вариант, затем любые совпадения без учёта регистра.
func (r Record) candidates(name string) []string {
	keys := make([]string, 0, 2)
	seen := make(map[string]bool, 2)
	add := func(k string) {
		if seen[k] {
			return
		}
		if _, ok := r.Fields[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}

	add(name)
	add(lowerFirst(name))

	var rest []string
	for k := range r.Fields {
		if !seen[k] && strings.EqualFold(k, name) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		add(k)
	}
	return keys
}

// String возвращает первое непустое строковое значение поля.
func (r Record) String(name string) string {
	for _, k := range r.candidates(name) {
		if s := stringify(r.Fields[k]); s != "" {
			return s
		}
	}
	return ""
}

// Value возвращает первое присутствующее (не nil) значение поля в строковом виде.
// ok=false, если поле отсутствует или равно null.
func (r Record) Value(name string) (string, bool) {
	for _, k := range r.candidates(name) {
		if v := r.Fields[k]; v != nil {
			return stringify(v), true
		}
	}
	return "", false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
