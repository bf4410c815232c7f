package output

import (
	"fmt"
	"time"

	"github.com/pipewright/pipewright/internal/api"
)

// PrintRun renders a deployment run: step progress, recorded resources, and
// the verification report when present.
func PrintRun(run *api.DeploymentRun) {
	Header(fmt.Sprintf("Deployment %s %s", run.RunID, StatusBadge(string(run.Status))))

	if run.Account != "" {
		KeyValue("Account", run.Account)
	}
	KeyValue("Telemetry project", run.Config.TelemetryProjectID)
	if !run.Config.SameProject && run.Config.InferenceProjectID != "" {
		KeyValue("Inference project", run.Config.InferenceProjectID)
	}
	KeyValue("Region", run.Config.Region)
	KeyValue("Dataset", run.Config.DatasetName)
	Blank()

	total := len(run.Steps)
	for i, step := range run.Steps {
		switch step.Status {
		case api.StepCompleted:
			StepSuccess(i+1, total, stepLine(step))
		case api.StepFailed:
			StepError(i+1, total, stepLine(step))
		default:
			Step(i+1, total, fmt.Sprintf("%s %s", step.Name, StatusBadge(string(step.Status))))
		}
	}

	if len(run.Resources) > 0 {
		Blank()
		Println(Bold("Resources"))
		for kind, id := range run.Resources {
			KeyValue(string(kind), id)
		}
	}

	if run.Report != nil {
		PrintVerification(run.Report)
	}
}

func stepLine(step api.StepRecord) string {
	line := step.Name
	if step.Detail != "" {
		line += ": " + step.Detail
	}
	if step.Error != "" {
		line += ": " + step.Error
	}
	if step.StartedAt != nil && step.CompletedAt != nil {
		line += fmt.Sprintf(" (%s)", Duration(step.CompletedAt.Sub(*step.StartedAt)))
	}
	return line
}

// PrintVerification renders a verification report hop by hop.
func PrintVerification(report *api.VerificationReport) {
	Header("Pipeline verification")
	KeyValue("Marker", report.Marker)
	if !report.StartedAt.IsZero() && !report.CompletedAt.IsZero() {
		KeyValue("Took", Duration(report.CompletedAt.Sub(report.StartedAt)))
	}
	Blank()

	for _, hop := range report.Hops {
		switch {
		case hop.Success:
			Success("%s: marker observed (%d)", hop.Hop, hop.ObservedCount)
		case hop.LastError != "":
			Error("%s: %s", hop.Hop, hop.LastError)
		default:
			Warning("%s: marker not observed within budget", hop.Hop)
		}
	}

	Blank()
	if report.Success {
		Success("end-to-end flow verified")
	} else {
		Error("pipeline did not verify; re-run verification once the job settles")
	}
}

// RunRows converts runs into table rows for the status listing.
func RunRows(runs []api.DeploymentRun, now time.Time) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		completed := 0
		for _, step := range run.Steps {
			if step.Status == api.StepCompleted {
				completed++
			}
		}
		rows = append(rows, []string{
			run.RunID,
			string(run.Status),
			fmt.Sprintf("%d/%d", completed, len(run.Steps)),
			Duration(now.Sub(run.UpdatedAt)) + " ago",
		})
	}
	return rows
}
