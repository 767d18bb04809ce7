package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/30Piraten/codepipeline-stack/plan"
	"github.com/30Piraten/codepipeline-stack/preflight"
)

// describe renders one row per action, in execution order.
func describe(w io.Writer, p *plan.Pipeline) {
	fmt.Fprintf(w, "Pipeline: %s\n", p.Name)
	fmt.Fprintf(w, "Role:     %s %s\n", p.Role.Principal, strings.Join(p.Role.ManagedPolicies, ","))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Stage", "Action", "Kind", "Inputs", "Outputs", "Details"})
	for _, stage := range p.Stages {
		for _, action := range stage.Actions {
			t.AppendRow(table.Row{
				stage.Name,
				action.Name,
				action.Kind,
				artifactNames(action.Inputs),
				artifactNames(action.Outputs),
				details(action),
			})
		}
		t.AppendSeparator()
	}
	t.Render()
}

func artifactNames(artifacts []plan.Artifact) string {
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func details(action plan.Action) string {
	lines := make([]string, 0, len(action.Details))
	for _, key := range action.SortedDetails() {
		lines = append(lines, key+"="+action.Details[key])
	}
	return strings.Join(lines, "\n")
}

func printReport(w io.Writer, report preflight.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Check", "Target", "Status", "Message"})
	for _, res := range report.Results {
		status := "ok"
		if !res.OK {
			status = "FAIL"
		}
		t.AppendRow(table.Row{res.Check, res.Target, status, res.Message})
	}
	t.Render()
}
