// runner.go ports verifier_runner.py's VerifierRunner.run_async: resolve the
// sandbox's workspace root as cwd, execute the verifier command through the
// sandbox runner, hash raw output, build a structured report, then hash and
// store an attestation binding the plan's inputs hash to the result.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
	"github.com/choiros/supervisor/internal/domain/verification"
)

const verifierVersion = "v1"

// Runner executes verifier specs inside a sandbox and produces
// content-addressed attestations.
type Runner struct {
	artifacts *ArtifactStore
	sandbox   sandboxdomain.Runner
	logger    *zap.Logger
	timeout   int
}

// NewRunner builds a Runner backed by the given artifact store and sandbox.
// defaultTimeoutSeconds is the timeout applied to every verifier command.
func NewRunner(artifacts *ArtifactStore, sandbox sandboxdomain.Runner, defaultTimeoutSeconds int, logger *zap.Logger) *Runner {
	return &Runner{artifacts: artifacts, sandbox: sandbox, logger: logger, timeout: defaultTimeoutSeconds}
}

// Run executes one verifier spec against handle and returns its Result plus
// Attestation, both content-addressed against inputsHash (the plan hash
// this verifier run belongs to).
func (r *Runner) Run(ctx context.Context, handle sandboxdomain.Handle, spec CatalogEntry, inputsHash string) (verification.Result, verification.Attestation, error) {
	start := time.Now()

	args, err := shlex.Split(spec.Command)
	if err != nil {
		return verification.Result{}, verification.Attestation{}, fmt.Errorf("verifier %s: split command: %w", spec.ID, err)
	}
	cmd := sandboxdomain.Command{
		Args:           args,
		TimeoutSeconds: r.timeout,
		Cwd:            handle.Config.WorkspaceRoot,
	}
	sandboxResult, err := r.sandbox.Exec(ctx, handle, cmd)
	if err != nil {
		return verification.Result{}, verification.Attestation{}, fmt.Errorf("verifier %s exec: %w", spec.ID, err)
	}

	raw := "STDOUT\n" + sandboxResult.Stdout + "\nSTDERR\n" + sandboxResult.Stderr
	artifactHash, err := r.artifacts.PutLog([]byte(raw))
	if err != nil {
		return verification.Result{}, verification.Attestation{}, fmt.Errorf("store artifact: %w", err)
	}

	passed := sandboxResult.ExitCode == 0 && !sandboxResult.TimedOut
	duration := time.Since(start)

	report := map[string]any{
		"verifier_id":   spec.ID,
		"command":       spec.Command,
		"exit_code":     sandboxResult.ExitCode,
		"timed_out":     sandboxResult.TimedOut,
		"duration_ms":   duration.Milliseconds(),
		"artifact_hash": artifactHash,
		"passed":        passed,
	}
	reportJSON, err := canonicalJSON(report)
	if err != nil {
		return verification.Result{}, verification.Attestation{}, fmt.Errorf("marshal report: %w", err)
	}
	reportHash, err := r.artifacts.PutJSON(reportJSON)
	if err != nil {
		return verification.Result{}, verification.Attestation{}, fmt.Errorf("store report: %w", err)
	}

	attestation := map[string]any{
		"verifier_id":      spec.ID,
		"verifier_version": verifierVersion,
		"inputs_hash":      inputsHash,
		"artifact_hash":    artifactHash,
		"report_hash":      reportHash,
		"passed":           passed,
	}
	attestationJSON, err := canonicalJSON(attestation)
	if err != nil {
		return verification.Result{}, verification.Attestation{}, fmt.Errorf("marshal attestation: %w", err)
	}
	attestationHash := sha256Hex(attestationJSON)

	result := verification.Result{
		VerifierID:   spec.ID,
		Command:      spec.Command,
		ExitCode:     sandboxResult.ExitCode,
		TimedOut:     sandboxResult.TimedOut,
		DurationMS:   duration.Milliseconds(),
		ArtifactHash: artifactHash,
		ReportHash:   reportHash,
		Passed:       passed,
	}
	att := verification.Attestation{
		VerifierID:      spec.ID,
		VerifierVersion: verifierVersion,
		InputsHash:      inputsHash,
		ArtifactHash:    artifactHash,
		ReportHash:      reportHash,
		AttestationHash: attestationHash,
		Passed:          passed,
	}

	if r.logger != nil {
		r.logger.Info("verifier run complete",
			zap.String("verifier_id", spec.ID),
			zap.Bool("passed", passed),
			zap.Duration("duration", duration),
		)
	}
	return result, att, nil
}

// RunAll executes every spec in order, returning on the first sandbox-level
// execution error (a verifier that merely fails its check is not an
// error — it is recorded as Passed=false).
func (r *Runner) RunAll(ctx context.Context, handle sandboxdomain.Handle, specs []CatalogEntry, inputsHash string) ([]verification.Result, []verification.Attestation, error) {
	results := make([]verification.Result, 0, len(specs))
	attestations := make([]verification.Attestation, 0, len(specs))
	for _, spec := range specs {
		result, att, err := r.Run(ctx, handle, spec, inputsHash)
		if err != nil {
			return results, attestations, err
		}
		results = append(results, result)
		attestations = append(attestations, att)
	}
	return results, attestations, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
