package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/jsii-runtime-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wzshiming/ctc"

	"github.com/30Piraten/codepipeline-stack/config"
	"github.com/30Piraten/codepipeline-stack/plan"
	"github.com/30Piraten/codepipeline-stack/preflight"
)

type CLI struct {
	stdout io.Writer
	stderr io.Writer
	log    *logrus.Logger

	configPath string
	envFile    string
	verbose    bool
}

func NewCLI(stdout, stderr io.Writer) *CLI {
	log := logrus.New()
	log.SetOutput(stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	return &CLI{
		stdout: stdout,
		stderr: stderr,
		log:    log,
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so jsii.Close still runs before exiting.
func run(args []string) int {
	defer jsii.Close()

	c := NewCLI(os.Stdout, os.Stderr)
	cmd := c.rootCommand()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(c.stderr, "%sError:%s %v\n", ctc.ForegroundRed, ctc.Reset, err)
		return 1
	}
	return 0
}

func (c *CLI) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "codepipeline-stack",
		Short:         "Declare a CodePipeline with source, build and deploy stages",
		Long:          "Synthesizes a CloudFormation stack for an AWS CodePipeline. Without a subcommand it synthesizes, which is what cdk.json invokes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.verbose {
				c.log.SetLevel(logrus.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.synth()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "pipeline.yaml", "Pipeline configuration file (.yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	root.PersistentFlags().BoolVar(&c.verbose, "verbose", false, "Enable debug logging")

	root.AddCommand(
		c.buildSynthCommand(),
		c.buildDescribeCommand(),
		c.buildValidateCommand(),
		c.buildPreflightCommand(),
	)
	return root
}

func (c *CLI) buildSynthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "synth",
		Short: "Synthesize the CloudFormation template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.synth()
		},
	}
}

func (c *CLI) buildDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the stages, actions and artifacts of the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := c.loadPlan()
			if err != nil {
				return err
			}
			describe(c.stdout, p)
			return nil
		},
	}
}

func (c *CLI) buildValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the pipeline layout without synthesizing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := c.loadPlan()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "pipeline %s is valid: %d stages, %d artifacts\n", p.Name, len(p.Stages), len(p.Artifacts()))
			return nil
		},
	}
}

func (c *CLI) buildPreflightCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check the AWS account for what the stack expects to exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.loadPlan()
			if err != nil {
				return err
			}
			return c.preflight(cmd.Context(), cfg)
		},
	}
}

// loadPlan reads the env file and configuration and derives a validated plan.
func (c *CLI) loadPlan() (config.Config, *plan.Pipeline, error) {
	if err := config.LoadEnvFile(c.envFile); err != nil {
		return config.Config{}, nil, err
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, nil, errors.Wrap(err, "failed to load configuration")
	}
	c.log.WithFields(logrus.Fields{
		"config":   c.configPath,
		"pipeline": cfg.Pipeline.Name,
		"source":   cfg.Source.Kind,
		"deploy":   cfg.Deploy.Kind,
	}).Debug("configuration loaded")

	p, err := plan.FromConfig(cfg)
	if err != nil {
		return config.Config{}, nil, errors.Wrap(err, "failed to build pipeline")
	}
	if err := p.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, p, nil
}

func (c *CLI) synth() error {
	cfg, p, err := c.loadPlan()
	if err != nil {
		return err
	}

	app := awscdk.NewApp(nil)
	NewCodePipelineStack(app, cfg.StackName, &CodePipelineStackProps{
		StackProps: awscdk.StackProps{
			Env: env(cfg),
		},
		Config: cfg,
		Plan:   p,
	})

	assembly := app.Synth(nil)
	c.log.WithField("dir", *assembly.Directory()).Debug("cloud assembly written")
	return nil
}

func (c *CLI) preflight(ctx context.Context, cfg config.Config) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return errors.Wrap(err, "failed to load AWS configuration")
	}

	report := preflight.NewChecker(awsCfg, c.log).Run(ctx, cfg)
	printReport(c.stdout, report)
	if report.Failed() {
		return errors.New("preflight checks failed")
	}
	return nil
}

// env leaves the account unresolved when none is configured so the CLI
// credentials decide at deploy time.
func env(cfg config.Config) *awscdk.Environment {
	e := &awscdk.Environment{
		Region: jsii.String(cfg.Region),
	}
	if cfg.Account != "" {
		e.Account = jsii.String(cfg.Account)
	}
	return e
}
