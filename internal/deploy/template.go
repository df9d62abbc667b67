package deploy

import (
	"bytes"
	"fmt"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Default configuration keys written for every deployment. Stored variables
// override these on redeploy.
const (
	ConfigKeySessionID   = "SESSION_ID"
	ConfigKeyOwnerNumber = "OWNER_NUMBER"
	ConfigKeyPrefix      = "PREFIX"
	ConfigKeyBotName     = "BOT_NAME"
)

// configTemplate renders KEY=VALUE lines. text/template iterates maps in
// sorted key order, so the output is deterministic.
var configTemplate = template.Must(template.New("config").Parse(
	`{{range $key, $value := .}}{{$key}}={{$value}}
{{end}}`))

// renderConfig produces the config.env content for a deployment.
func renderConfig(values map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, values); err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}
	return buf.Bytes(), nil
}

// Workflow document types, marshalled with yaml.v3. The generated workflow
// runs the bot in a restart loop and re-dispatches itself before the runner's
// time limit so the bot stays up across runs.
type workflowDoc struct {
	Name        string                 `yaml:"name"`
	On          workflowTriggers       `yaml:"on"`
	Permissions map[string]string      `yaml:"permissions"`
	Concurrency workflowConcurrency    `yaml:"concurrency"`
	Jobs        map[string]workflowJob `yaml:"jobs"`
}

type workflowTriggers struct {
	WorkflowDispatch struct{} `yaml:"workflow_dispatch"`
}

type workflowConcurrency struct {
	Group            string `yaml:"group"`
	CancelInProgress bool   `yaml:"cancel-in-progress"`
}

type workflowJob struct {
	RunsOn         string         `yaml:"runs-on"`
	TimeoutMinutes int            `yaml:"timeout-minutes"`
	Steps          []workflowStep `yaml:"steps"`
}

type workflowStep struct {
	Name string            `yaml:"name,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	With map[string]string `yaml:"with,omitempty"`
	If   string            `yaml:"if,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
	Run  string            `yaml:"run,omitempty"`
}

// renderWorkflow produces the workflow definition for a deployment branch.
// workflowFile is the account's workflow file name, needed so the final step
// can re-dispatch the same workflow.
func renderWorkflow(branch, workflowFile string) ([]byte, error) {
	doc := workflowDoc{
		Name: "bot-" + branch,
		Permissions: map[string]string{
			"actions":  "write",
			"contents": "read",
		},
		Concurrency: workflowConcurrency{
			Group:            branch,
			CancelInProgress: true,
		},
		Jobs: map[string]workflowJob{
			"run": {
				RunsOn:         "ubuntu-latest",
				TimeoutMinutes: 350,
				Steps: []workflowStep{
					{Uses: "actions/checkout@v4"},
					{
						Uses: "actions/setup-node@v4",
						With: map[string]string{"node-version": "20"},
					},
					{
						Name: "Install dependencies",
						Run:  "npm install --no-audit --no-fund",
					},
					{
						Name: "Run bot",
						// Restart the bot on crash until the job nears its
						// time limit.
						Run: "end=$((SECONDS + 20400))\n" +
							"while [ $SECONDS -lt $end ]; do\n" +
							"  node index.js || true\n" +
							"  sleep 5\n" +
							"done\n",
					},
					{
						Name: "Re-dispatch",
						If:   "always()",
						Env:  map[string]string{"GH_TOKEN": "${{ secrets.GITHUB_TOKEN }}"},
						Run:  fmt.Sprintf("gh workflow run %s --ref %s", workflowFile, branch),
					},
				},
			},
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("rendering workflow: %w", err)
	}
	return out, nil
}
