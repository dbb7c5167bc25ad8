package review

import "github.com/reviewkit/reviewflow/pkg/reviewflow"

// BuildGraph assembles and compiles the review workflow: scan routes to
// snapshot and fix when there are fresh findings (or straight to report
// when clean or failed), fix fans out across the verification checks
// joining at collect, and collect routes to report, back to fix for a
// bounded retry, or to rollback.
//
// Every path converges on report, then save_history, so the comment is
// posted and the history record written exactly once per run.
func (w *Workflow) BuildGraph() (*reviewflow.CompiledGraph, error) {
	g := reviewflow.NewGraph().
		AddNode("scan", w.scan).
		AddNode("snapshot", w.snapshot, reviewflow.SuccessOnly()).
		AddNode("fix", w.fix, reviewflow.SuccessOnly()).
		AddNode("collect", w.collect).
		AddNode("rollback", w.rollback).
		AddNode("report", w.report).
		AddNode("save_history", w.saveHistory)

	for _, check := range w.checks {
		g.AddNode(check, w.checkNode(check), reviewflow.SuccessOnly())
	}

	g.SetEntry("scan").
		AddConditionalEdge("scan", w.routeScan, map[string]string{
			"found": "snapshot",
			"clean": "report",
			"error": "report",
		}).
		AddEdge("snapshot", "fix").
		AddFanOut("fix", w.selectChecks, w.checks, "collect")

	for _, check := range w.checks {
		g.AddEdge(check, "collect")
	}

	collectRoutes := map[string]string{
		"ok":       "report",
		"rollback": "rollback",
	}
	if w.maxFixAttempts > 1 {
		collectRoutes["retry"] = "fix"
		g.AddRetryEdge("collect", "fix", w.maxFixAttempts-1)
	}
	g.AddConditionalEdge("collect", w.routeCollect, collectRoutes).
		AddEdge("rollback", "report").
		AddEdge("report", "save_history").
		AddEdge("save_history", reviewflow.END)

	return g.Compile()
}
