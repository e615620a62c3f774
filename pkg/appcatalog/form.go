package appcatalog

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"apps-console/pkg/apps"
)

// Form turns user values into install and edit requests for one chart.
type Form interface {
	Kind() Kind
	Item() Item
	// Defaults returns the values the form starts with.
	Defaults() map[string]any
	// Validate checks values merged over the defaults.
	Validate(values map[string]any) error
	// CreateRequest builds the chart.release.create argument.
	CreateRequest(releaseName string, values map[string]any) (apps.CreateRequest, error)
	// UpdateRequest builds the chart.release.update argument.
	UpdateRequest(values map[string]any) (apps.UpdateRequest, error)
}

// NewForm picks the form variant for item.
func NewForm(item Item) (Form, error) {
	switch item.Kind {
	case KindGeneric:
		return &GenericForm{item: item}, nil
	default:
		return NewSchemaForm(item)
	}
}

// GenericItem is the generic chart entry used when no catalog lists one.
func GenericItem() Item {
	return Item{
		Name:          GenericChart,
		Catalog:       CatalogRef{ID: DefaultCatalog, Label: DefaultCatalog},
		Train:         DefaultTrain,
		IconURL:       DefaultIcon,
		LatestVersion: "latest",
		Kind:          KindGeneric,
	}
}

// GenericForm configures the free-form chart: a container image plus arbitrary values.
type GenericForm struct {
	item Item
}

func (f *GenericForm) Kind() Kind { return KindGeneric }
func (f *GenericForm) Item() Item { return f.item }

func (f *GenericForm) Defaults() map[string]any {
	return map[string]any{
		"image": map[string]any{
			"repository": "",
			"tag":        "latest",
			"pullPolicy": "IfNotPresent",
		},
		"updateStrategy":                "RollingUpdate",
		"restartPolicy":                 "Always",
		"containerEnvironmentVariables": []any{},
		"portForwardingList":            []any{},
	}
}

func (f *GenericForm) Validate(values map[string]any) error {
	merged := Merge(f.Defaults(), values)
	if repo, _ := Lookup(merged, "image.repository").(string); repo == "" {
		return &ValidationError{Missing: []string{"image.repository"}}
	}
	return nil
}

func (f *GenericForm) CreateRequest(releaseName string, values map[string]any) (apps.CreateRequest, error) {
	return createRequest(f, releaseName, values)
}

func (f *GenericForm) UpdateRequest(values map[string]any) (apps.UpdateRequest, error) {
	// Edits send only the changed values; the daemon keeps the rest.
	if repo, ok := Lookup(values, "image.repository").(string); ok && repo == "" {
		return apps.UpdateRequest{}, &ValidationError{Missing: []string{"image.repository"}}
	}
	return apps.UpdateRequest{Values: values}, nil
}

// Question is one entry of a chart version schema.
type Question struct {
	Variable string         `json:"variable"`
	Label    string         `json:"label,omitempty"`
	Group    string         `json:"group,omitempty"`
	Schema   QuestionSchema `json:"schema"`
}

// QuestionSchema describes the value of a question.
type QuestionSchema struct {
	Type     string     `json:"type"`
	Default  any        `json:"default,omitempty"`
	Required bool       `json:"required,omitempty"`
	Attrs    []Question `json:"attrs,omitempty"`
}

type versionSchema struct {
	Questions []Question `json:"questions"`
}

// SchemaForm configures a catalog chart from its version schema.
type SchemaForm struct {
	item      Item
	questions []Question
}

// NewSchemaForm parses item's schema. An empty schema yields a form without questions.
func NewSchemaForm(item Item) (*SchemaForm, error) {
	f := &SchemaForm{item: item}
	if len(item.Schema) == 0 || string(item.Schema) == "null" {
		return f, nil
	}
	var schema versionSchema
	if err := json.Unmarshal(item.Schema, &schema); err != nil {
		return nil, errors.Wrapf(err, "invalid schema for %s %s", item.Name, item.LatestVersion)
	}
	f.questions = schema.Questions
	return f, nil
}

func (f *SchemaForm) Kind() Kind            { return KindSchema }
func (f *SchemaForm) Item() Item            { return f.item }
func (f *SchemaForm) Questions() []Question { return f.questions }

func (f *SchemaForm) Defaults() map[string]any {
	return defaultsOf(f.questions)
}

func defaultsOf(questions []Question) map[string]any {
	out := map[string]any{}
	for _, q := range questions {
		switch {
		case q.Schema.Type == "dict":
			out[q.Variable] = defaultsOf(q.Schema.Attrs)
		case q.Schema.Default != nil:
			out[q.Variable] = q.Schema.Default
		}
	}
	return out
}

func (f *SchemaForm) Validate(values map[string]any) error {
	merged := Merge(f.Defaults(), values)
	var missing []string
	requiredMissing("", f.questions, merged, &missing)
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{Missing: missing}
	}
	return nil
}

func requiredMissing(prefix string, questions []Question, values map[string]any, missing *[]string) {
	for _, q := range questions {
		path := q.Variable
		if prefix != "" {
			path = prefix + "." + q.Variable
		}
		if q.Schema.Type == "dict" {
			nested, _ := values[q.Variable].(map[string]any)
			requiredMissing(path, q.Schema.Attrs, nested, missing)
			continue
		}
		if !q.Schema.Required {
			continue
		}
		if v, ok := values[q.Variable]; !ok || v == nil || v == "" {
			*missing = append(*missing, path)
		}
	}
}

func (f *SchemaForm) CreateRequest(releaseName string, values map[string]any) (apps.CreateRequest, error) {
	return createRequest(f, releaseName, values)
}

func (f *SchemaForm) UpdateRequest(values map[string]any) (apps.UpdateRequest, error) {
	return apps.UpdateRequest{Values: values}, nil
}

func createRequest(f Form, releaseName string, values map[string]any) (apps.CreateRequest, error) {
	if releaseName == "" {
		return apps.CreateRequest{}, &ValidationError{Missing: []string{"release_name"}}
	}
	merged := Merge(f.Defaults(), values)
	if err := f.Validate(merged); err != nil {
		return apps.CreateRequest{}, err
	}
	item := f.Item()
	return apps.CreateRequest{
		ReleaseName: releaseName,
		Catalog:     item.Catalog.ID,
		Train:       item.Train,
		Item:        item.Name,
		Version:     item.LatestVersion,
		Values:      merged,
	}, nil
}

// ValidationError lists required values that are missing.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required values: " + strings.Join(e.Missing, ", ")
}

// Merge deep-merges override into a copy of base.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if ov, ok := v.(map[string]any); ok {
			if bv, ok := out[k].(map[string]any); ok {
				out[k] = Merge(bv, ov)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Lookup reads a dotted path from nested maps.
func Lookup(values map[string]any, path string) any {
	var cur any = values
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// SetPath writes value at a dotted path, creating intermediate maps.
func SetPath(values map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := values
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}
