package domain

// SlackEnvelope - внешняя оболочка Events API Slack
type SlackEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	TeamID    string `json:"team_id"`
	Team      struct {
		ID string `json:"id"`
	} `json:"team"`
	Event struct {
		Type string `json:"type"`
	} `json:"event"`
}

// Workspace возвращает идентификатор рабочего пространства
func (e SlackEnvelope) Workspace() string {
	if e.TeamID != "" {
		return e.TeamID
	}
	return e.Team.ID
}

// Kind возвращает тип события
func (e SlackEnvelope) Kind() string {
	if e.Event.Type != "" {
		return e.Event.Type
	}
	if e.Type != "" {
		return e.Type
	}
	return "unknown"
}

// ZoomEnvelope - событие Zoom
type ZoomEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		PlainToken string `json:"plainToken"`
		AccountID  string `json:"account_id"`
	} `json:"payload"`
}

// AsanaEnvelope - пакет событий Asana
type AsanaEnvelope struct {
	Events []struct {
		Action   string `json:"action"`
		Resource struct {
			GID          string `json:"gid"`
			ResourceType string `json:"resource_type"`
		} `json:"resource"`
	} `json:"events"`
}

// Kind возвращает тип первого события пакета
func (e AsanaEnvelope) Kind() string {
	if len(e.Events) == 0 {
		return "heartbeat"
	}
	first := e.Events[0]
	if first.Resource.ResourceType == "" {
		return first.Action
	}
	return first.Resource.ResourceType + "." + first.Action
}
