package plan

import (
	"fmt"
	"regexp"
	"strings"
)

// NamePattern is the character set CodePipeline accepts for pipeline, stage,
// action and artifact names.
const NamePattern = `[A-Za-z0-9.@_-]+`

// RoleNamePattern is the character set IAM accepts for role names.
const RoleNamePattern = `[\w+=,.@-]+`

// ProjectNamePattern is the form CodeBuild accepts for project names.
const ProjectNamePattern = `[A-Za-z0-9][A-Za-z0-9_-]*`

const (
	maxNameLength        = 100
	maxRoleNameLength    = 64
	maxProjectNameLength = 255
)

// MaxHandlerWaitSeconds leaves the deploy handler a minute of its 15 minute
// Lambda limit to report the job result.
const MaxHandlerWaitSeconds = 840

var (
	namePattern        = regexp.MustCompile(`^` + NamePattern + `$`)
	roleNamePattern    = regexp.MustCompile(`^` + RoleNamePattern + `$`)
	projectNamePattern = regexp.MustCompile(`^` + ProjectNamePattern + `$`)
)

// ValidationError collects every problem found in a pipeline.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid pipeline: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the static wiring the provisioning engine would otherwise
// reject at deploy time.
func (p *Pipeline) Validate() error {
	verr := &ValidationError{}
	checkName(verr, "pipeline", p.Name)
	if p.DeployRole.Name != "" {
		checkPattern(verr, "deploy role", p.DeployRole.Name, roleNamePattern, RoleNamePattern, maxRoleNameLength)
	}
	if p.BuildProject != "" {
		checkPattern(verr, "build project", p.BuildProject, projectNamePattern, ProjectNamePattern, maxProjectNameLength)
	}
	if p.HandlerWaitSeconds < 0 || p.HandlerWaitSeconds > MaxHandlerWaitSeconds {
		verr.add("deploy handler wait %ds must be between 1 and %d seconds", p.HandlerWaitSeconds, MaxHandlerWaitSeconds)
	}
	if len(p.Stages) < 2 {
		verr.add("pipeline %q needs at least two stages, has %d", p.Name, len(p.Stages))
	}

	produced := map[string]string{}
	stages := map[string]bool{}
	for i, stage := range p.Stages {
		checkName(verr, "stage", stage.Name)
		if stages[stage.Name] {
			verr.add("stage %q is declared more than once", stage.Name)
		}
		stages[stage.Name] = true
		if len(stage.Actions) == 0 {
			verr.add("stage %q has no actions", stage.Name)
		}

		actions := map[string]bool{}
		var outputs []Artifact
		for _, action := range stage.Actions {
			checkName(verr, "action", action.Name)
			if actions[action.Name] {
				verr.add("action %q is declared more than once in stage %q", action.Name, stage.Name)
			}
			actions[action.Name] = true

			switch {
			case i == 0 && !action.Kind.IsSource():
				verr.add("stage %q must hold only source actions, found %s action %q", stage.Name, action.Kind, action.Name)
			case i > 0 && action.Kind.IsSource():
				verr.add("source action %q must be in the first stage, found in %q", action.Name, stage.Name)
			}
			if action.Kind.IsSource() && len(action.Outputs) == 0 {
				verr.add("source action %q produces no artifact", action.Name)
			}

			for _, in := range action.Inputs {
				if _, ok := produced[in.Name]; !ok {
					verr.add("action %q consumes artifact %q that no earlier stage produces", action.Name, in.Name)
				}
			}
			outputs = append(outputs, action.Outputs...)
		}

		// Outputs become visible to later stages only.
		for _, out := range outputs {
			checkName(verr, "artifact", out.Name)
			if owner, ok := produced[out.Name]; ok {
				verr.add("artifact %q is produced by both %q and %q", out.Name, owner, stage.Name)
				continue
			}
			produced[out.Name] = stage.Name
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func checkName(verr *ValidationError, what, name string) {
	checkPattern(verr, what, name, namePattern, NamePattern, maxNameLength)
}

func checkPattern(verr *ValidationError, what, name string, re *regexp.Regexp, pattern string, maxLength int) {
	switch {
	case name == "":
		verr.add("%s name is empty", what)
	case len(name) > maxLength:
		verr.add("%s name %q is longer than %d characters", what, name, maxLength)
	case !re.MatchString(name):
		verr.add("%s name %q must match %s", what, name, pattern)
	}
}
