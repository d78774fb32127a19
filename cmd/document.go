// File: cmd/document.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/mmmyyc/ai-template-sub000/internal/classes"
	"github.com/mmmyyc/ai-template-sub000/internal/dom"
)

// readDocument reads the file at path, or stdin when path is "-".
func readDocument(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read document '%s': %w", path, err)
	}
	return string(data), nil
}

// loadContainer parses content and returns the element matching container.
func loadContainer(content, container string) (*html.Node, error) {
	doc, err := htmlquery.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	sel, err := cascadia.Compile(container)
	if err != nil {
		return nil, fmt.Errorf("invalid container selector '%s': %w", container, err)
	}
	root := sel.MatchFirst(doc)
	if root == nil {
		return nil, fmt.Errorf("container '%s' not found in document", container)
	}
	return root, nil
}

// findTarget locates one element beneath root by XPath or CSS selector.
func findTarget(root *html.Node, xpath, css string) (*html.Node, error) {
	switch {
	case xpath != "" && css != "":
		return nil, errors.New("use either --xpath or --select, not both")
	case xpath != "":
		n, err := htmlquery.Query(root, xpath)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath '%s': %w", xpath, err)
		}
		if n == nil {
			return nil, fmt.Errorf("no element matches xpath '%s'", xpath)
		}
		return n, nil
	case css != "":
		sel, err := cascadia.Compile(css)
		if err != nil {
			return nil, fmt.Errorf("invalid selector '%s': %w", css, err)
		}
		n := sel.MatchFirst(root)
		if n == nil {
			return nil, fmt.Errorf("no element matches selector '%s'", css)
		}
		return n, nil
	default:
		return nil, errors.New("one of --xpath or --select is required")
	}
}

// parseModel decodes and validates a JSON style model.
func parseModel(raw string) (classes.StyleModel, error) {
	var model classes.StyleModel
	if strings.TrimSpace(raw) == "" {
		return model, nil
	}
	if err := json.UnmarshalFromString(raw, &model); err != nil {
		return model, fmt.Errorf("failed to decode style model: %w", err)
	}
	if err := model.Validate(); err != nil {
		return model, fmt.Errorf("invalid style model: %w", err)
	}
	return model, nil
}

func newPathCmd(app *appState) *cobra.Command {
	var file, xpath, css, container string

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the element path of an element in a document",
		Example: `  slide-edit path --file slide.html --xpath '//p[1]'
  slide-edit path --file slide.html --select 'div > p.lead'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			if container == "" {
				container = app.cfg.Editor.Container
			}
			root, err := loadContainer(content, container)
			if err != nil {
				return err
			}
			target, err := findTarget(root, xpath, css)
			if err != nil {
				return err
			}
			path, err := dom.BuildPath(target, root)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "HTML document, or - for stdin")
	cmd.Flags().StringVar(&xpath, "xpath", "", "XPath expression selecting the element")
	cmd.Flags().StringVar(&css, "select", "", "CSS selector selecting the element")
	cmd.Flags().StringVar(&container, "container", "", "selector of the element paths are relative to (default from config)")
	return cmd
}

type resolveResult struct {
	Path     dom.ElementPath `json:"path"`
	Strategy dom.Strategy    `json:"strategy"`
	Tag      string          `json:"tag"`
	Classes  []string        `json:"classes"`
	HTML     string          `json:"html"`
}

func newResolveCmd(app *appState) *cobra.Command {
	var file, path, container string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Locate the element addressed by a path, using fallbacks when needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			if container == "" {
				container = app.cfg.Editor.Container
			}
			root, err := loadContainer(content, container)
			if err != nil {
				return err
			}
			res, err := dom.NewResolver(app.logger).Resolve(dom.ElementPath(path), root)
			if err != nil {
				return err
			}
			return writeJSON(cmd, resolveResult{
				Path:     dom.ElementPath(path),
				Strategy: res.Strategy,
				Tag:      res.Node.Data,
				Classes:  dom.ClassList(res.Node),
				HTML:     htmlquery.OutputHTML(res.Node, true),
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "HTML document, or - for stdin")
	cmd.Flags().StringVarP(&path, "path", "p", "", "element path to resolve")
	cmd.Flags().StringVar(&container, "container", "", "selector of the element paths are relative to (default from config)")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <classes>",
		Short: "Decode a class list into a style model",
		Example: `  slide-edit extract "text-gray-500 text-sm p-4 pt-2"`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd, classes.Extract(classes.Split(args[0])))
		},
	}
}

type mergeResult struct {
	Classes []string       `json:"classes"`
	Class   string         `json:"class"`
	Diff    classes.Change `json:"diff"`
}

func newMergeCmd() *cobra.Command {
	var prev, rawModel string

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Apply a style model to a class list",
		Example: `  slide-edit merge --classes "text-gray-500 text-sm" --model '{"textColor":{"hue":"blue","intensity":700},"fontSize":"lg"}'`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := parseModel(rawModel)
			if err != nil {
				return err
			}
			before := classes.Split(prev)
			after := classes.Merge(before, model)
			return writeJSON(cmd, mergeResult{
				Classes: after,
				Class:   classes.Join(after),
				Diff:    classes.Diff(before, after),
			})
		},
	}
	cmd.Flags().StringVar(&prev, "classes", "", "current class attribute value")
	cmd.Flags().StringVarP(&rawModel, "model", "m", "", "style model as JSON")
	return cmd
}
