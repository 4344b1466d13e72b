// Путь: internal/domain/jira.go
package domain

// JiraWebhook - общая часть вебхуков Jira
type JiraWebhook struct {
	Timestamp    int64     `json:"timestamp"`
	WebhookEvent string    `json:"webhookEvent"`
	Issue        JiraIssue `json:"issue"`
}

// JiraIssue - задача Jira
type JiraIssue struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Kind возвращает тип события
func (w JiraWebhook) Kind() string {
	if w.WebhookEvent == "" {
		return "unknown"
	}
	return w.WebhookEvent
}
