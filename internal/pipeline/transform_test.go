package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformRule_Apply(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		rule        TransformRule
		input       string
		expected    string
		expectError bool
	}{
		{name: "trim spaces", rule: TransformRule{Type: TypeTrim}, input: "  hello world  ", expected: "hello world"},
		{name: "normalize spaces", rule: TransformRule{Type: TypeNormalizeSpaces}, input: "hello    world\n\ttest", expected: "hello world test"},
		{name: "lowercase", rule: TransformRule{Type: TypeLowercase}, input: "HELLO World", expected: "hello world"},
		{name: "uppercase", rule: TransformRule{Type: TypeUppercase}, input: "hello world", expected: "HELLO WORLD"},
		{name: "title", rule: TransformRule{Type: TypeTitle}, input: "hello world", expected: "Hello World"},
		{name: "fold accents", rule: TransformRule{Type: TypeFold}, input: "  Téléphone  Portable", expected: "telephone portable"},
		{name: "remove html", rule: TransformRule{Type: TypeRemoveHTML}, input: "This is <b>bold</b> text", expected: "This is bold text"},
		{name: "extract number", rule: TransformRule{Type: TypeExtractNumber}, input: "Price: $123.45", expected: "123.45"},
		{name: "extract number missing", rule: TransformRule{Type: TypeExtractNumber}, input: "none", expectError: true},
		{name: "clean price us", rule: TransformRule{Type: TypeCleanPrice}, input: "$1,299.99", expected: "1299.99"},
		{name: "clean price eu", rule: TransformRule{Type: TypeCleanPrice}, input: "1.299,99 €", expected: "1299.99"},
		{name: "clean price whole", rule: TransformRule{Type: TypeCleanPrice}, input: "₴ 1 200", expected: "1200"},
		{name: "parse int", rule: TransformRule{Type: TypeParseInt}, input: "1,234", expected: "1234"},
		{name: "parse int invalid", rule: TransformRule{Type: TypeParseInt}, input: "abc", expectError: true},
		{name: "parse float", rule: TransformRule{Type: TypeParseFloat}, input: "4.80", expected: "4.8"},
		{name: "regex replace", rule: TransformRule{Type: TypeRegex, Pattern: `\$([0-9,]+\.\d*)`, Replacement: "$1"}, input: "$1,299.99", expected: "1,299.99"},
		{name: "regex without pattern", rule: TransformRule{Type: TypeRegex}, input: "test", expectError: true},
		{name: "parse date", rule: TransformRule{Type: TypeParseDate, Format: "02.01.2006"}, input: "18.10.2026", expected: "2026-10-18T00:00:00Z"},
		{name: "parse date invalid", rule: TransformRule{Type: TypeParseDate}, input: "yesterday", expectError: true},
		{name: "prefix", rule: TransformRule{Type: TypePrefix, Params: map[string]interface{}{"value": "https://"}}, input: "example.com", expected: "https://example.com"},
		{name: "suffix", rule: TransformRule{Type: TypeSuffix, Params: map[string]interface{}{"value": ".html"}}, input: "page", expected: "page.html"},
		{name: "replace", rule: TransformRule{Type: TypeReplace, Params: map[string]interface{}{"old": "old", "new": "new"}}, input: "old text", expected: "new text"},
		{name: "replace without params", rule: TransformRule{Type: TypeReplace}, input: "old text", expectError: true},
		{name: "truncate", rule: TransformRule{Type: TypeTruncate, Params: map[string]interface{}{"length": 3}}, input: "héllo", expected: "hél"},
		{name: "invalid transform type", rule: TransformRule{Type: "invalid_type"}, input: "test", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.rule.Apply(ctx, tt.input)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestTransformList_Apply(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		rules       TransformList
		input       string
		expected    string
		expectError bool
	}{
		{
			name:     "chain transforms",
			rules:    TransformList{{Type: TypeTrim}, {Type: TypeLowercase}},
			input:    "  HELLO WORLD  ",
			expected: "hello world",
		},
		{
			name: "complex chain",
			rules: TransformList{
				{Type: TypeTrim},
				{Type: TypeRegex, Pattern: `Price: \$([0-9,]+\.\d+)`, Replacement: "$1"},
				{Type: TypeRegex, Pattern: `,`, Replacement: ""},
			},
			input:    "  Price: $1,299.99  ",
			expected: "1299.99",
		},
		{
			name:        "error in chain",
			rules:       TransformList{{Type: TypeTrim}, {Type: "invalid_type"}},
			input:       "test",
			expectError: true,
		},
		{
			name:     "empty list is identity",
			input:    " as is ",
			expected: " as is ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.rules.Apply(ctx, tt.input)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestTransformList_ApplyHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := TransformList{{Type: TypeTrim}}.Apply(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateTransformRules(t *testing.T) {
	tests := []struct {
		name        string
		rules       TransformList
		expectError bool
	}{
		{
			name: "valid rules",
			rules: TransformList{
				{Type: TypeTrim},
				{Type: TypeLowercase},
				{Type: TypeRegex, Pattern: `\d+`, Replacement: "X"},
				{Type: TypeTruncate, Params: map[string]interface{}{"length": "10"}},
			},
		},
		{name: "invalid type", rules: TransformList{{Type: "invalid_type"}}, expectError: true},
		{name: "regex without pattern", rules: TransformList{{Type: TypeRegex}}, expectError: true},
		{name: "invalid regex pattern", rules: TransformList{{Type: TypeRegex, Pattern: "["}}, expectError: true},
		{name: "negative truncate", rules: TransformList{{Type: TypeTruncate, Params: map[string]interface{}{"length": -1}}}, expectError: true},
		{name: "prefix without value", rules: TransformList{{Type: TypePrefix}}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransformRules(tt.rules)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
