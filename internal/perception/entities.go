package perception

import (
	"regexp"
	"strings"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
)

type entityPattern struct {
	Key string
	Re  *regexp.Regexp
	// Group — номер подгруппы со значением; 0 — все совпадение
	Group int
}

// Порядок важен: найденные фрагменты маскируются, чтобы "числа" не дублировали
// цифры телефонов, дат и времени.
var entityPatterns = []entityPattern{
	{domain.EntityURLs, regexp.MustCompile(`(?i)\bhttps?://[^\s]+|\bwww\.[^\s]+`), 0},
	{domain.EntityEmails, regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), 0},
	// Перед номером не должно быть цифры или "+": иначе хвост длинного числа
	// выглядит как телефон. Международный формат: +CC и группы по 1-4 цифры.
	{domain.EntityPhones, regexp.MustCompile(`(?:^|[^\d+])(\+\d{1,3}[\s.-]?(?:\(?\d{1,4}\)?[\s.-]?){1,4}\d{2,4}|\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4})\b`), 1},
	{domain.EntityDates, regexp.MustCompile(`(?i)\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b|\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?\b`), 0},
	{domain.EntityTimes, regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\s*(?:am|pm)?|\b\d{1,2}\s*(?:am|pm)\b`), 0},
	{domain.EntityNumbers, regexp.MustCompile(`\b\d+(?:\.\d+)?\b`), 0},
}

// Относительное время ищется независимо, без маскирования.
var relativeTimeRe = regexp.MustCompile(`(?i)\b(?:today|tonight|tomorrow|yesterday|next week|this weekend|next month)\b`)

// ExtractEntities применяет фиксированный набор регулярных выражений.
// В результате только непустые ключи.
func ExtractEntities(text string) map[string][]string {
	out := make(map[string][]string)
	masked := text

	for _, p := range entityPatterns {
		locs := p.Re.FindAllStringSubmatchIndex(masked, -1)
		if len(locs) == 0 {
			continue
		}
		values := make([]string, 0, len(locs))
		buf := []byte(masked)
		for _, loc := range locs {
			start, end := loc[2*p.Group], loc[2*p.Group+1]
			if start < 0 {
				continue
			}
			values = append(values, strings.TrimSpace(masked[start:end]))
			for i := start; i < end; i++ {
				buf[i] = ' '
			}
		}
		if d := dedupe(values); len(d) > 0 {
			out[p.Key] = d
		}
		masked = string(buf)
	}

	if rel := relativeTimeRe.FindAllString(text, -1); len(rel) > 0 {
		for i := range rel {
			rel[i] = strings.ToLower(rel[i])
		}
		out[domain.EntityRelativeTime] = dedupe(rel)
	}

	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// mergeEntities добавляет сущности модели к найденным регулярками.
func mergeEntities(base map[string][]string, extra map[string][]string) map[string][]string {
	for k, vals := range extra {
		merged := append(append([]string{}, base[k]...), vals...)
		if d := dedupe(merged); len(d) > 0 {
			base[k] = d
		}
	}
	return base
}
