// internal/common/validation/notification.go
package validation

import "tgminiapp-notifier/internal/models"

// SpecSchemaDoc describes one notification creation payload.
func SpecSchemaDoc() map[string]interface{} {
	types := make([]interface{}, 0, len(models.NotificationTypes()))
	for _, t := range models.NotificationTypes() {
		types = append(types, t)
	}

	nonEmpty := map[string]interface{}{"type": "string", "minLength": 1}
	boolean := map[string]interface{}{"type": "boolean"}
	optionalString := map[string]interface{}{"type": "string"}

	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"recipient", "type", "title", "channels"},
		"properties": map[string]interface{}{
			"recipient": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"userId", "externalChatId"},
				"properties": map[string]interface{}{
					"userId":         nonEmpty,
					"externalChatId": nonEmpty,
				},
			},
			"type":    map[string]interface{}{"type": "string", "enum": types},
			"title":   map[string]interface{}{"type": "string", "minLength": 1, "maxLength": models.MaxTitleLength},
			"content": map[string]interface{}{"type": "string", "maxLength": models.MaxContentLength},
			"channels": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"chatBot": boolean,
					"email":   boolean,
					"push":    boolean,
					"inApp":   boolean,
				},
				"additionalProperties": false,
			},
			"priority": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"low", "normal", "high", "urgent"},
			},
			"scheduledAt": map[string]interface{}{"type": "string", "format": "date-time"},
			"maxRetries":  map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 20},
			"data": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"contentId":  optionalString,
					"amount":     map[string]interface{}{"type": "number"},
					"currency":   optionalString,
					"actionUrl":  optionalString,
					"imageUrl":   optionalString,
					"buttonText": optionalString,
					"expiresAt":  map[string]interface{}{"type": "string", "format": "date-time"},
				},
			},
			"metadata": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"source":   optionalString,
					"campaign": optionalString,
					"template": optionalString,
					"language": optionalString,
				},
			},
		},
	}
}

// BulkSchemaDoc describes {"notifications": [spec, ...]}.
func BulkSchemaDoc(maxItems int) map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"notifications"},
		"properties": map[string]interface{}{
			"notifications": map[string]interface{}{
				"type":     "array",
				"minItems": 1,
				"maxItems": maxItems,
				"items":    SpecSchemaDoc(),
			},
		},
	}
}

var (
	SpecSchema = MustCompile(SpecSchemaDoc())
	BulkSchema = MustCompile(BulkSchemaDoc(1000))
)
