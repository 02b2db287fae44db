package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"

	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var (
		outputDir string
		checkOnly bool
	)

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate CLI and config reference docs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			return generateDocumentation(rootFactory, outputDir, checkOnly)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if generated docs are out of date")

	docsRoot.AddCommand(gen)
	return docsRoot
}

func generateDocumentation(rootFactory func() *cobra.Command, outputDir string, checkOnly bool) error {
	target := outputDir
	if checkOnly {
		tmpDir, err := os.MkdirTemp("", "dotpersona-docs-gen-*")
		if err != nil {
			return fmt.Errorf("create temp docs dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)
		target = tmpDir
	}

	if err := writeGeneratedReferences(rootFactory, target); err != nil {
		return err
	}
	if !checkOnly {
		return nil
	}

	generated, err := listFiles(filepath.Join(target, "reference"))
	if err != nil {
		return err
	}
	for _, rel := range generated {
		want, err := os.ReadFile(filepath.Join(target, "reference", rel))
		if err != nil {
			return err
		}
		have, err := os.ReadFile(filepath.Join(outputDir, "reference", rel))
		if err != nil || !bytes.Equal(want, have) {
			return fmt.Errorf("docs out of date: reference/%s differs; run `dotpersona docs generate`", rel)
		}
	}
	return nil
}

func writeGeneratedReferences(rootFactory func() *cobra.Command, outDir string) error {
	cliRoot := rootFactory()
	markCommandsForDocgen(cliRoot)

	cliDir := filepath.Join(outDir, "reference", "cli")
	if err := os.MkdirAll(cliDir, 0o755); err != nil {
		return fmt.Errorf("create cli docs dir: %w", err)
	}
	prepender := func(filename string) string {
		title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		return fmt.Sprintf("# %s\n\n", strings.ReplaceAll(title, "_", " "))
	}
	linkHandler := func(name string) string { return name }
	if err := cobraDoc.GenMarkdownTreeCustom(cliRoot, cliDir, prepender, linkHandler); err != nil {
		return fmt.Errorf("generate cli markdown docs: %w", err)
	}

	manDir := filepath.Join(outDir, "reference", "man")
	if err := os.MkdirAll(manDir, 0o755); err != nil {
		return fmt.Errorf("create man docs dir: %w", err)
	}
	header := &cobraDoc.GenManHeader{Title: "DOTPERSONA", Section: "1", Source: appName}
	if err := cobraDoc.GenManTree(cliRoot, header, manDir); err != nil {
		return fmt.Errorf("generate man pages: %w", err)
	}

	configRef, err := buildConfigReferenceMarkdown()
	if err != nil {
		return err
	}
	return writeTextFile(filepath.Join(outDir, "reference", "config.md"), configRef)
}

func markCommandsForDocgen(cmd *cobra.Command) {
	cmd.DisableAutoGenTag = true
	for _, child := range cmd.Commands() {
		markCommandsForDocgen(child)
	}
}

func writeTextFile(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func listFiles(root string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

type configFieldRow struct {
	Path    string
	Type    string
	Env     string
	Default string
}

func buildConfigReferenceMarkdown() (string, error) {
	defaults, err := flattenConfigDefaults()
	if err != nil {
		return "", err
	}

	rows := []configFieldRow{}
	collectConfigRows(reflect.TypeOf(config.Config{}), "", defaults, &rows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`.\n\n")
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		b.WriteString("| `" + escapePipes(row.Path) + "` | `" + escapePipes(row.Type) + "` | `" + escapePipes(valueOr(row.Env, "-")) + "` | `" + escapePipes(valueOr(row.Default, "-")) + "` |\n")
	}

	b.WriteString("\n## Providers\n\n")
	b.WriteString("`model.provider` accepts: ")
	names := providers.SupportedProviders()
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("`" + name + "`")
	}
	b.WriteString(".\n")
	return b.String(), nil
}

func collectConfigRows(t reflect.Type, prefix string, defaults map[string]string, rows *[]configFieldRow) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		jsonTag := strings.TrimSpace(strings.Split(f.Tag.Get("json"), ",")[0])
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		path := jsonTag
		if prefix != "" {
			path = prefix + "." + jsonTag
		}
		if f.Type.Kind() == reflect.Struct {
			collectConfigRows(f.Type, path, defaults, rows)
			continue
		}
		*rows = append(*rows, configFieldRow{
			Path:    path,
			Type:    friendlyType(f.Type),
			Env:     strings.TrimSpace(f.Tag.Get("env")),
			Default: defaults[path],
		})
	}
}

func flattenConfigDefaults() (map[string]string, error) {
	data, err := json.Marshal(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	out := map[string]string{}
	flattenMapValues("", root, out)
	return out, nil
}

func flattenMapValues(prefix string, v any, out map[string]string) {
	if typed, ok := v.(map[string]any); ok {
		for k, child := range typed {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenMapValues(next, child, out)
		}
		return
	}
	encoded, _ := json.Marshal(v)
	out[prefix] = string(encoded)
}

func friendlyType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice:
		return "array<" + friendlyType(t.Elem()) + ">"
	case reflect.Struct:
		return "object"
	default:
		return t.String()
	}
}

func escapePipes(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}
