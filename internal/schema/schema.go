// Package schema describes the command tree in machine-readable form so
// agents can discover commands, flags and which of them sign.
package schema

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/policy"
)

type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Signing     bool            `json:"signing"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Usage    string `json:"usage"`
	Default  string `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// Build describes the command at commandPath below root, or root itself when
// the path is empty.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	cmd := root
	for _, part := range strings.Fields(commandPath) {
		var next *cobra.Command
		for _, c := range cmd.Commands() {
			if c.Name() == part || c.HasAlias(part) {
				next = c
				break
			}
		}
		if next == nil {
			return CommandSchema{}, clierr.Newf(clierr.CodeUsage, "command not found: %s", commandPath)
		}
		cmd = next
	}
	return serialize(cmd), nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	path := strings.TrimSpace(cmd.CommandPath())
	s := CommandSchema{
		Path:    path,
		Use:     cmd.Use,
		Short:   cmd.Short,
		Signing: policy.IsSigning(withoutRoot(path)),
		Flags:   collectFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collectFlags(cmd *cobra.Command) []FlagSchema {
	var items []FlagSchema
	cmd.NonInheritedFlags().VisitAll(func(f *pflag.Flag) {
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		items = append(items, FlagSchema{
			Name:     f.Name,
			Type:     f.Value.Type(),
			Usage:    f.Usage,
			Default:  f.DefValue,
			Required: required,
		})
	})
	return items
}

func withoutRoot(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[1:], " ")
}
