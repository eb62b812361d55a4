package prompt

var templates = map[Kind]string{
	KindStage: `You are running the "{{.Name}}" stage.
{{if .Topic}}
Objective: {{.Topic}}
{{end}}{{if .Target}}
Target: {{.Target}}
{{end}}{{if .Instructions}}
{{.Instructions}}
{{end}}{{if .Inputs}}
Outputs of earlier stages (read them before starting):
{{bullets .Inputs}}
{{end}}{{if .Notes}}
Additional context to take into account:
{{bullets .Notes}}
{{end}}{{if .ArtifactPath}}
Write your complete result to {{.ArtifactPath}}.
{{end}}`,

	KindResearch: `Research the following topic from the "{{.Name}}" perspective.

Topic: {{.Topic}}
{{if .Focus}}
Focus: {{.Focus}}
{{end}}{{if .Notes}}
Earlier rounds left gaps. Read these documents and address them first:
{{bullets .Notes}}
{{end}}
Write your findings as markdown to {{.ArtifactPath}}. Do not read other
researchers' output.`,

	KindConsolidate: `Merge the following research findings on "{{.Topic}}" into one
coherent document. Read each file:
{{bullets .Inputs}}
{{if .Notes}}
Reviewer feedback to address:
{{bullets .Notes}}
{{end}}{{if .Feedback}}
Feedback: {{.Feedback}}
{{end}}
Resolve contradictions explicitly and keep attribution to the source
domain. Write the merged result to {{.ArtifactPath}}.`,

	KindSufficiency: `Judge whether the research below is sufficient to plan "{{.Topic}}"
(round {{.Round}}). Read:
{{bullets .Inputs}}

Reply with a single JSON object and nothing else:
{"status": "success", "sufficient": true|false, "gaps": ["missing topic", ...]}`,

	KindPlan: `Write an implementation plan for "{{.Topic}}".
{{if .Inputs}}
Base it on:
{{bullets .Inputs}}
{{end}}{{if .Notes}}
Address this feedback on the previous plan:
{{bullets .Notes}}
{{end}}{{if .Feedback}}
Reviewer said: {{.Feedback}}
{{end}}
Write the plan as markdown to {{.ArtifactPath}}.`,

	KindDecompose: `Decompose the plan for "{{.Topic}}" into executable phases. Read:
{{bullets .Inputs}}

Reply with a single JSON object and nothing else:
{"status": "success", "phases": [{"name": "...", "orchestrator": "stage:<pipeline>" or "fanout:<worker set>", "modifier": "...", "target": "...", "depends_on": ["..."]}]}`,

	KindEvaluate: `Evaluate whether the execution of "{{.Topic}}" satisfies the plan. Read:
{{bullets .Inputs}}
{{if .Notes}}
Earlier evaluations:
{{bullets .Notes}}
{{end}}
Reply with a single JSON object and nothing else:
{"status": "success", "verdict": "pass"|"fail", "issues": ["..."]}`,

	KindReport: `Write the final report for "{{.Topic}}". Outcome: {{.Outcome}}.
{{if .Inputs}}
Sources:
{{bullets .Inputs}}
{{end}}
Summarize what was planned, what was executed, evaluation results and any
open issues. Write it as markdown to {{.ArtifactPath}}.`,
}
