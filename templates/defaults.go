package templates

const (
	// DefaultChatTemplateName is used by chat channels that do not name a
	// template of their own.
	DefaultChatTemplateName = "chat_default.tmpl"

	// DefaultWebhookTemplateName is used by webhook, mqtt and sns channels
	// that do not name a template of their own.
	DefaultWebhookTemplateName = "webhook_default.json"
)

const defaultChatTemplate = `<b>【{{ .status_text }}】{{ .labels.alertname | default "unknown" }}</b>
级别: {{ .labels.severity | default "-" }}
来源: {{ .labels._source }}{{ if .labels.cluster }}
集群: {{ .labels.cluster }}{{ end }}{{ range $label, $values := .merged_entities }}
{{ $label }}: {{ join "," $values }}{{ end }}{{ if index .annotations "当前值" }}
当前值: {{ index .annotations "当前值" }}{{ end }}{{ if .annotations.summary }}
摘要: {{ .annotations.summary }}{{ end }}{{ if .annotations.description }}
详情: {{ url_to_link .annotations.description }}{{ end }}
开始时间: {{ .startsAt_cst }}{{ if .endsAt_cst }}
恢复时间: {{ .endsAt_cst }}{{ end }}`

const defaultWebhookTemplate = `{"alertname": {{ .labels.alertname | quote }}, ` +
	`"status": {{ .status | quote }}, ` +
	`"status_text": {{ .status_text | quote }}, ` +
	`"severity": {{ .labels.severity | quote }}, ` +
	`"summary": {{ .annotations.summary | quote }}, ` +
	`"description": {{ .annotations.description | quote }}, ` +
	`"startsAt": {{ .startsAt | quote }}, ` +
	`"endsAt": {{ .endsAt | quote }}}`

var defaultTemplates = map[string]string{
	DefaultChatTemplateName:    defaultChatTemplate,
	DefaultWebhookTemplateName: defaultWebhookTemplate,
}
