// Package pipeline applies declarative value transforms to extracted fields.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/valpere/ScrapeMend/internal/similarity"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Transform type names accepted in TransformRule.Type.
const (
	TypeTrim            = "trim"
	TypeNormalizeSpaces = "normalize_spaces"
	TypeLowercase       = "lowercase"
	TypeUppercase       = "uppercase"
	TypeTitle           = "title"
	TypeFold            = "fold"
	TypeRemoveHTML      = "remove_html"
	TypeExtractNumber   = "extract_number"
	TypeCleanPrice      = "clean_price"
	TypeParseFloat      = "parse_float"
	TypeParseInt        = "parse_int"
	TypeRegex           = "regex"
	TypeParseDate       = "parse_date"
	TypePrefix          = "prefix"
	TypeSuffix          = "suffix"
	TypeReplace         = "replace"
	TypeTruncate        = "truncate"
)

var (
	spaces     = regexp.MustCompile(`\s+`)
	htmlTags   = regexp.MustCompile(`<[^>]*>`)
	number     = regexp.MustCompile(`-?\d+(?:[.,]\d+)*`)
	priceChars = regexp.MustCompile(`[^\d.,\-]`)
	titleCaser = cases.Title(language.Und)
)

// TransformRule defines a single transformation rule
type TransformRule struct {
	Type        string                 `yaml:"type" json:"type"`
	Pattern     string                 `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Replacement string                 `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	Format      string                 `yaml:"format,omitempty" json:"format,omitempty"`
	Params      map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// TransformList represents a list of transformation rules that can be applied sequentially
type TransformList []TransformRule

// Apply applies all transformation rules in sequence to the input string
func (tl TransformList) Apply(ctx context.Context, input string) (string, error) {
	result := input
	for i, rule := range tl {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var err error
		result, err = rule.Apply(ctx, result)
		if err != nil {
			return "", fmt.Errorf("transform rule %d failed: %w", i, err)
		}
	}
	return result, nil
}

// Apply applies a single transformation rule to the input string
func (tr TransformRule) Apply(_ context.Context, input string) (string, error) {
	switch tr.Type {
	case TypeTrim:
		return strings.TrimSpace(input), nil

	case TypeNormalizeSpaces:
		return spaces.ReplaceAllString(strings.TrimSpace(input), " "), nil

	case TypeLowercase:
		return strings.ToLower(input), nil

	case TypeUppercase:
		return strings.ToUpper(input), nil

	case TypeTitle:
		return titleCaser.String(input), nil

	case TypeFold:
		return similarity.Fold(input), nil

	case TypeRemoveHTML:
		return htmlTags.ReplaceAllString(input, ""), nil

	case TypeExtractNumber:
		match := number.FindString(input)
		if match == "" {
			return "", fmt.Errorf("extract_number: no number in %q", input)
		}
		return match, nil

	case TypeCleanPrice:
		cleaned := priceChars.ReplaceAllString(input, "")
		if cleaned == "" {
			return "", fmt.Errorf("clean_price: no amount in %q", input)
		}
		return normalizeDecimal(cleaned), nil

	case TypeParseFloat:
		val, err := ParseFloat(input)
		if err != nil {
			return "", fmt.Errorf("parse_float failed: %w", err)
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil

	case TypeParseInt:
		val, err := ParseInt(input)
		if err != nil {
			return "", fmt.Errorf("parse_int failed: %w", err)
		}
		return strconv.Itoa(val), nil

	case TypeRegex:
		re, err := tr.compile()
		if err != nil {
			return "", err
		}
		return re.ReplaceAllString(input, tr.Replacement), nil

	case TypeParseDate:
		layout := tr.Format
		if layout == "" {
			layout = "2006-01-02"
		}
		parsed, err := time.Parse(layout, strings.TrimSpace(input))
		if err != nil {
			return "", fmt.Errorf("parse_date failed: %w", err)
		}
		return parsed.Format(time.RFC3339), nil

	case TypePrefix:
		v, err := tr.param("value")
		if err != nil {
			return "", err
		}
		return v + input, nil

	case TypeSuffix:
		v, err := tr.param("value")
		if err != nil {
			return "", err
		}
		return input + v, nil

	case TypeReplace:
		old, err := tr.param("old")
		if err != nil {
			return "", err
		}
		repl, err := tr.param("new")
		if err != nil {
			return "", err
		}
		return strings.ReplaceAll(input, old, repl), nil

	case TypeTruncate:
		n, err := tr.intParam("length")
		if err != nil {
			return "", err
		}
		runes := []rune(input)
		if len(runes) > n {
			return string(runes[:n]), nil
		}
		return input, nil

	default:
		return "", fmt.Errorf("unknown transform type: %s", tr.Type)
	}
}

func (tr TransformRule) compile() (*regexp.Regexp, error) {
	if tr.Pattern == "" {
		return nil, fmt.Errorf("regex pattern is required")
	}
	re, err := regexp.Compile(tr.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	return re, nil
}

func (tr TransformRule) param(name string) (string, error) {
	if tr.Params == nil || tr.Params[name] == nil {
		return "", fmt.Errorf("%s requires %s parameter", tr.Type, name)
	}
	return fmt.Sprintf("%v", tr.Params[name]), nil
}

func (tr TransformRule) intParam(name string) (int, error) {
	raw, err := tr.param(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: %s must be a non-negative integer", tr.Type, name)
	}
	return n, nil
}

// normalizeDecimal turns "1.299,99" and "1,299.99" into "1299.99". The last
// separator followed by one or two digits is taken as the decimal point.
func normalizeDecimal(s string) string {
	last := strings.LastIndexAny(s, ".,")
	if last >= 0 && len(s)-last-1 > 0 && len(s)-last-1 <= 2 {
		whole := strings.NewReplacer(".", "", ",", "").Replace(s[:last])
		return whole + "." + s[last+1:]
	}
	return strings.NewReplacer(".", "", ",", "").Replace(s)
}

// ParseInt converts a string to an integer
func ParseInt(s string) (int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.Atoi(cleaned)
}

// ParseFloat converts a string to a float64
func ParseFloat(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.ParseFloat(cleaned, 64)
}

// ValidateTransformRules validates transformation rule configuration
func ValidateTransformRules(rules TransformList) error {
	for i, rule := range rules {
		switch rule.Type {
		case TypeTrim, TypeNormalizeSpaces, TypeLowercase, TypeUppercase, TypeTitle, TypeFold,
			TypeRemoveHTML, TypeExtractNumber, TypeCleanPrice, TypeParseFloat, TypeParseInt:
		case TypeRegex:
			if _, err := rule.compile(); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		case TypeParseDate:
			if rule.Format != "" {
				if _, err := time.Parse(rule.Format, rule.Format); err != nil {
					return fmt.Errorf("rule %d: invalid date format: %w", i, err)
				}
			}
		case TypePrefix, TypeSuffix:
			if _, err := rule.param("value"); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		case TypeReplace:
			if _, err := rule.param("old"); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
			if _, err := rule.param("new"); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		case TypeTruncate:
			if _, err := rule.intParam("length"); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		default:
			return fmt.Errorf("rule %d: unknown transform type: %s", i, rule.Type)
		}
	}
	return nil
}
