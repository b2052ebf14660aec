// Package template provides merge-field rendering for dynamic action
// configuration ("Hi {{.contact.first_name}}").
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
)

// RenderWithContext renders a template string against the execution
// context namespaces used everywhere else in the engine.
func RenderWithContext(input string, execCtx *models.ExecutionContext) (any, error) {
	data := map[string]any{
		"contact": execCtx.ContactData,
		"trigger": execCtx.TriggerData,
		"steps":   execCtx.StepResults,
		"meta":    execCtx.Metadata,
		"execution": map[string]any{
			"id":          execCtx.ExecutionID,
			"workflow_id": execCtx.WorkflowID,
			"version_id":  execCtx.VersionID,
			"contact_id":  execCtx.ContactID,
		},
	}

	return Render(input, data)
}

// RenderString is RenderWithContext flattened to a string result.
func RenderString(input string, execCtx *models.ExecutionContext) (string, error) {
	result, err := RenderWithContext(input, execCtx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%v", result), nil
}

// Parse checks template syntax without executing it. Used by config
// validation at publish time.
func Parse(templateStr string) (*template.Template, error) {
	return newTemplate().Parse(templateStr)
}

func Render(templateStr string, data any) (any, error) {
	tmpl, err := newTemplate().Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	// Try to parse as JSON if it looks like JSON
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	// Try to parse as number
	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	// Try to parse as boolean
	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func newTemplate() *template.Template {
	return template.
		New("config").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		})
}
