package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kingrea/orchestra/examples"
	"github.com/kingrea/orchestra/internal/deployer"
	"github.com/kingrea/orchestra/internal/engine/definition"
)

var dryRun bool

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the process definitions found in the resource roots",
	Long: `Runs the same startup deployment pass as serve and reports what was deployed.
With --dry-run the definitions are only parsed and validated; no engine is built.`,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate only")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	out := stdout(cmd)
	if dryRun {
		return checkDefinitions(out)
	}
	rt, err := newRuntime(nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.boot.Engine(cmd.Context()); err != nil {
		return err
	}
	report := rt.boot.Report()
	for i, res := range report.Resources {
		fmt.Fprintf(out, "deployed %s from %s\n", report.Definitions[i], res)
	}
	fmt.Fprintf(out, "%d definition(s) deployed\n", len(report.Definitions))
	return nil
}

// checkDefinitions parses every matching resource and stops at the first
// invalid one, like the real pass.
func checkDefinitions(out io.Writer) error {
	props, err := loadConfig()
	if err != nil {
		return err
	}
	roots, err := deployer.OpenRoots(props.ResourceRoots())
	if err != nil {
		return err
	}
	if demo {
		roots = append(roots, examples.Root())
	}
	scanner, err := deployer.NewScanner(deployer.DefaultPattern, roots...)
	if err != nil {
		return err
	}
	defer scanner.Close()
	resources, err := scanner.Scan()
	if err != nil {
		return err
	}
	for _, res := range resources {
		def, err := parseResource(res)
		if err != nil {
			return &deployer.Error{Resource: res.Name, Op: "parse", Err: err}
		}
		fmt.Fprintf(out, "ok %s (%s)\n", def.Key(), res.Name)
	}
	fmt.Fprintf(out, "%d definition(s) valid\n", len(resources))
	return nil
}

func parseResource(res deployer.Resource) (*definition.ProcessDefinition, error) {
	stream, err := res.Open()
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return definition.Parse(stream)
}
