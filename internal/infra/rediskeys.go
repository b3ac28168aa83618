package infra

const (
	// Namespace Базовый префикс для изоляции данных проекта в Redis и KV-хранилище
	Namespace = "devit"
)

// Ключи состояния
const (
	// KeyPatternCounters — плоский JSON-объект {pattern: count}
	KeyPatternCounters = Namespace + ":patterns:counters"
)
