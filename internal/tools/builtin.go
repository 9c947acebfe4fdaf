package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var ErrEmptyPrompt = errors.New("prompt is required")

// RegisterBuiltins installs the stock text tools.
func RegisterBuiltins(r *Registry) {
	r.Register("echo", func(_ context.Context, prompt string) (string, error) {
		if prompt == "" {
			return "", ErrEmptyPrompt
		}
		return prompt, nil
	})

	r.Register("uppercase", func(_ context.Context, prompt string) (string, error) {
		if prompt == "" {
			return "", ErrEmptyPrompt
		}
		return strings.ToUpper(prompt), nil
	})

	r.Register("word-count", func(_ context.Context, prompt string) (string, error) {
		if prompt == "" {
			return "", ErrEmptyPrompt
		}
		words := len(strings.Fields(prompt))
		chars := utf8.RuneCountInString(prompt)
		return fmt.Sprintf("words: %d, characters: %d", words, chars), nil
	})
}
