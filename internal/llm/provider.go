// Package llm — порт к языковой модели: сообщения на вход, текст на выход.
// Любой сбой вызова поднимается как *ProviderError; стадии пайплайна
// трактуют его как сигнал перейти на детерминированный фолбэк.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider — непрозрачный вызов модели.
type Provider interface {
	SendMessage(ctx context.Context, messages []Message) (string, error)
}

// ErrNoProvider — модель не сконфигурирована.
var ErrNoProvider = errors.New("llm provider is not configured")

// ProviderError — сетевой сбой, отказ авторизации, rate limit или пустой ответ.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable — 429, 5xx и сетевые сбои без статуса имеет смысл повторить.
func (e *ProviderError) Retryable() bool {
	if errors.Is(e.Err, ErrNoProvider) || errors.Is(e.Err, context.Canceled) {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Call — единая точка вызова для стадий: nil провайдер тоже ProviderError.
func Call(ctx context.Context, p Provider, system, user string) (string, error) {
	if p == nil {
		return "", &ProviderError{Op: "send", Err: ErrNoProvider}
	}
	out, err := p.SendMessage(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		var pErr *ProviderError
		if errors.As(err, &pErr) {
			return "", err
		}
		return "", &ProviderError{Op: "send", Err: err}
	}
	return out, nil
}

// ExtractJSON возвращает первый сбалансированный {...} объект из ответа модели.
// Строки в кавычках учитываются, чтобы скобки внутри значений не ломали разбор.
func ExtractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(content[start : i+1])
			}
		}
	}
	return ""
}
