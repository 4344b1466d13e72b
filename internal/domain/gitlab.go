package domain

// GitLabWebhook - общая часть всех событий GitLab, нужная для маршрутизации
type GitLabWebhook struct {
	ObjectKind string  `json:"object_kind"`
	EventName  string  `json:"event_name"`
	EventType  string  `json:"event_type"`
	Project    Project `json:"project"`
}

// Project - проект GitLab
type Project struct {
	ID                int    `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
}

// Kind возвращает тип события: заголовок X-Gitlab-Event важнее тела
func (w GitLabWebhook) Kind(header string) string {
	switch {
	case header != "":
		return header
	case w.ObjectKind != "":
		return w.ObjectKind
	case w.EventName != "":
		return w.EventName
	}
	return "unknown"
}
