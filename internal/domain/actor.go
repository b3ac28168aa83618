package domain

// Actor — настроенная персона (PersonI), от имени которой идет прогон пайплайна.
type Actor struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	EnabledConnectors []string `json:"enabledConnectors"`
	// Capabilities — разрешенные ID инструментов. Пустой список = весь реестр.
	Capabilities []string `json:"capabilities"`

	// Профиль пользователя для контекста восприятия (имя, язык, часовой пояс)
	Profile map[string]any `json:"profile,omitempty"`
}

// HasConnector — проверка по набору включенных коннекторов.
func (a *Actor) HasConnector(connectorID string) bool {
	if a == nil {
		return false
	}
	for _, c := range a.EnabledConnectors {
		if c == connectorID {
			return true
		}
	}
	return false
}

// CanUseTool учитывает пустой список как «все разрешено».
func (a *Actor) CanUseTool(toolID string) bool {
	if a == nil || len(a.Capabilities) == 0 {
		return true
	}
	for _, c := range a.Capabilities {
		if c == toolID {
			return true
		}
	}
	return false
}
