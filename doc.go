// Package surveygen turns questionnaire documents into SurveyJS survey
// definitions through two sequential Gemini calls, wrapped in a tiered
// on-disk cache and a bounded-concurrency batch driver.
//
// # Architecture
//
// Three remote resources are cached with TTLs mirroring their server-side
// lifetimes:
//
//   - uploaded documents, keyed by content fingerprint, 48 hours
//   - context caches holding the example surveys, 60 minutes
//   - model responses, keyed by the full call spec, permanent
//
// The permanent invocation cache is the cost-avoidance mechanism: an
// identical call across reruns resolves from disk with zero billed tokens,
// so rerunning a batch with a warm cache reproduces the same artifacts for
// free.
//
// Each input file runs through a strictly sequential pipeline (upload,
// question extraction, survey generation, artifact writing) and always
// yields exactly one JobResult. The batch engine dispatches pipelines FIFO
// under a fixed parallelism ceiling; job failures are folded into the
// report and never abort sibling jobs.
//
// # Usage
//
//	store, _ := surveygen.NewStore("cache")
//	gw := surveygen.NewGateway(surveygen.NewGenaiService(client, nil), store)
//	prompts, _ := surveygen.DefaultPromptProvider()
//	writer, _ := surveygen.NewArtifactWriter("output")
//	pipe, _ := surveygen.NewPipeline(gw, prompts, writer, surveygen.PipelineConfig{
//		Model: "gemini-2.5-flash",
//	})
//	inputs, _ := surveygen.ListInputs("documents")
//	report := surveygen.NewEngine(pipe, 4, nil).Execute(ctx, inputs)
//	os.Exit(report.ExitCode())
package surveygen
