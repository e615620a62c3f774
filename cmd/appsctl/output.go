package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"apps-console/pkg/appcatalog"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// render writes v in the selected output format. text renders the table format.
func (a *app) render(v any, text func() string) error {
	switch a.flags.output {
	case outputJSON:
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		// Go through JSON so the keys match the API.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		_, err := fmt.Fprintln(a.out, text())
		return err
	}
}

func catalogTable(items []appcatalog.Item) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "VERSION", "CATALOG", "TRAIN")
	for _, it := range items {
		t.Row(it.Name, it.LatestVersion, it.Catalog.Label, it.Train)
	}
	return t.String()
}

func itemDetails(it appcatalog.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name:     %s\n", it.Name)
	fmt.Fprintf(&b, "Version:  %s\n", it.LatestVersion)
	fmt.Fprintf(&b, "Catalog:  %s (%s)\n", it.Catalog.Label, it.Train)
	if it.IconURL != "" {
		fmt.Fprintf(&b, "Icon:     %s\n", it.IconURL)
	}
	if it.Info != "" {
		fmt.Fprintf(&b, "\n%s", it.Info)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseValues reads --values files and --set assignments into one values tree. Later sources win.
func parseValues(files, sets []string) (map[string]any, error) {
	values := map[string]any{}
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read values file %s", path)
		}
		var fromFile map[string]any
		if err := yaml.Unmarshal(raw, &fromFile); err != nil {
			return nil, errors.Wrapf(err, "failed to parse values file %s", path)
		}
		values = appcatalog.Merge(values, fromFile)
	}
	for _, set := range sets {
		key, raw, ok := strings.Cut(set, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("invalid --set %q, expected key=value", set)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		appcatalog.SetPath(values, key, value)
	}
	return values, nil
}
