package expr

import (
	"strings"
	"unicode"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Functions returns the function table available to expressions.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"lower":         stdlib.LowerFunc,
		"upper":         stdlib.UpperFunc,
		"replace":       stdlib.ReplaceFunc,
		"regex_replace": stdlib.RegexReplaceFunc,
		"trimspace":     stdlib.TrimSpaceFunc,
		"format":        stdlib.FormatFunc,
		"join":          stdlib.JoinFunc,
		"split":         stdlib.SplitFunc,
		"substr":        stdlib.SubstrFunc,
		"snake":         stringFunc(Snake),
		"kebab":         stringFunc(Kebab),
		"title":         stringFunc(Title),
		"short_version": stringFunc(ShortVersion),
	}
}

func stringFunc(fn func(string) string) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "str", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.StringVal(fn(args[0].AsString())), nil
		},
	})
}

// Snake lowercases s and joins its alphanumeric runs with underscores.
func Snake(s string) string {
	return joinWords(s, "_")
}

// Kebab lowercases s and joins its alphanumeric runs with hyphens.
func Kebab(s string) string {
	return joinWords(s, "-")
}

// Title upper-cases the first letter of every word.
func Title(s string) string {
	return cases.Title(language.English).String(s)
}

// ShortVersion trims a dotted version to major.minor ("3.12.1" → "3.12").
func ShortVersion(s string) string {
	parts := strings.Split(s, ".")
	if len(parts) <= 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}

func joinWords(s, sep string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, sep)
}
