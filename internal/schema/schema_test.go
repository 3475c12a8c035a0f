package schema

import (
	"testing"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
)

func TestBuildSchema(t *testing.T) {
	root := &cobra.Command{Use: "cdp"}
	child := &cobra.Command{Use: "swap", Short: "swap cmds"}
	quote := &cobra.Command{Use: "quote", Short: "quote a swap"}
	quote.Flags().Int("slippage-bps", 100, "max slippage")
	quote.Flags().String("network", "", "network")
	_ = quote.MarkFlagRequired("network")
	execute := &cobra.Command{Use: "execute", Short: "execute a swap"}
	child.AddCommand(quote, execute)
	root.AddCommand(child)

	s, err := Build(root, "swap quote")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "cdp swap quote" || s.Signing {
		t.Fatalf("unexpected schema: %+v", s)
	}
	if len(s.Flags) != 2 {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	for _, f := range s.Flags {
		if f.Name == "network" && !f.Required {
			t.Fatalf("expected network to be required: %+v", f)
		}
		if f.Name == "slippage-bps" && (f.Required || f.Default != "100") {
			t.Fatalf("unexpected slippage flag: %+v", f)
		}
	}

	exec, err := Build(root, "swap execute")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !exec.Signing {
		t.Fatal("expected swap execute to be marked as signing")
	}
}

func TestBuildSchemaUnknownPath(t *testing.T) {
	root := &cobra.Command{Use: "cdp"}
	if _, err := Build(root, "nope"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}
