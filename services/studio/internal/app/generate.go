package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"scriptstudio/pkg/ai"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/metrics"
	"scriptstudio/pkg/prompts"
	"scriptstudio/pkg/queue"
	"scriptstudio/pkg/store"
	"scriptstudio/pkg/validate"
)

const stepStripStageDirections = "strip-stage-directions"

// GenerateScriptInput selects a script-generation prompt and fills its
// variables. PromptID zero picks the first script-generation prompt.
type GenerateScriptInput struct {
	PromptID  int64             `json:"promptId,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	// ContextScriptID is appended to the prompt when the record injects
	// context.
	ContextScriptID int64 `json:"contextScriptId,omitempty"`
	// ClientKey scopes the generation quota, usually the caller IP.
	ClientKey string `json:"clientKey,omitempty"`
}

// GenerateScriptResult is the stored outcome of a generation.
type GenerateScriptResult struct {
	ScriptID int64         `json:"scriptId"`
	Script   domain.Script `json:"script"`
	Warnings []string      `json:"warnings"`
	Cleaned  int           `json:"cleanedLines"`
}

// GenerateScript renders the prompt, calls the text generator, parses the
// reply as a script and stores it. Generator failures and unparseable
// replies are *domain.ExternalServiceError.
func (a *App) GenerateScript(ctx context.Context, in GenerateScriptInput) (GenerateScriptResult, error) {
	if a.generator == nil {
		return GenerateScriptResult{}, &domain.ExternalServiceError{Service: "generator", Message: "no text generator configured"}
	}
	rec, err := a.scriptPrompt(ctx, in.PromptID)
	if err != nil {
		return GenerateScriptResult{}, err
	}
	userPrompt, err := prompts.Render(rec, in.Variables)
	if err != nil {
		return GenerateScriptResult{}, err
	}
	if rec.Preprocessing.InjectContext && in.ContextScriptID > 0 {
		ctxScript, err := a.GetScript(ctx, in.ContextScriptID)
		if err != nil {
			return GenerateScriptResult{}, err
		}
		raw, err := json.Marshal(ctxScript)
		if err != nil {
			return GenerateScriptResult{}, err
		}
		userPrompt += "\n\nExisting script:\n" + string(raw)
	}

	req := a.generateRequest(rec, userPrompt)
	if a.quota != nil {
		if _, err := a.quota.Take(ctx, req.Model+":"+in.ClientKey); err != nil {
			return GenerateScriptResult{}, err
		}
	}
	logger := slog.With("prompt_id", rec.ID, "model", req.Model)
	start := time.Now()
	text, err := a.generator.GenerateText(ctx, req)
	metrics.GenerationDuration.WithLabelValues(req.Model).Observe(time.Since(start).Seconds())
	metrics.GenerationTotal.WithLabelValues(req.Model, metrics.Status(err)).Inc()
	if err != nil {
		logger.Warn("generate script failed", "err", err)
		return GenerateScriptResult{}, err
	}
	logger.Info("generated script", "duration_ms", time.Since(start).Milliseconds(), "bytes", len(text))

	var script domain.Script
	if err := json.Unmarshal([]byte(ai.ExtractJSON(text)), &script); err != nil {
		return GenerateScriptResult{}, &domain.ExternalServiceError{Service: "generator", Message: "reply is not a script JSON object: " + err.Error()}
	}
	script.ID = 0
	script.Timestamps = domain.Timestamps{}
	if script.Alias == "" {
		script.Alias = validate.Slugify(script.Title)
	}
	cleaned := 0
	if slices.Contains(rec.Postprocessing.Steps, stepStripStageDirections) {
		cleaned = validate.CleanScriptDialogue(&script)
	}
	id, warnings, err := a.AddScript(ctx, script)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return GenerateScriptResult{}, &domain.ExternalServiceError{Service: "generator", Message: "generated script is invalid: " + verr.Error()}
		}
		return GenerateScriptResult{}, err
	}
	script.ID = id
	return GenerateScriptResult{ScriptID: id, Script: script, Warnings: warnings, Cleaned: cleaned}, nil
}

func (a *App) scriptPrompt(ctx context.Context, id int64) (domain.PromptRecord, error) {
	if id > 0 {
		rec, err := a.GetPrompt(ctx, id)
		if err != nil {
			return domain.PromptRecord{}, err
		}
		if rec.Category != domain.CategoryScriptGeneration {
			return domain.PromptRecord{}, domain.Invalid("promptId", "prompt %d is not a %s prompt", id, domain.CategoryScriptGeneration)
		}
		return rec, nil
	}
	recs, err := a.store.Prompts.List(ctx, store.Filter[domain.PromptRecord]{
		Category: string(domain.CategoryScriptGeneration),
		Limit:    1,
	})
	if err != nil {
		return domain.PromptRecord{}, err
	}
	if len(recs) == 0 {
		return domain.PromptRecord{}, domain.Invalid("promptId", "no %s prompt available", domain.CategoryScriptGeneration)
	}
	return recs[0], nil
}

// generateRequest merges the persisted model settings with the prompt's own
// preferences. Prompt values win when set.
func (a *App) generateRequest(rec domain.PromptRecord, userPrompt string) ai.GenerateRequest {
	params := a.Model.Get()
	ms := rec.ModelSettings
	if ms.PreferredModel != "" {
		params.Model = ms.PreferredModel
	}
	if ms.Temperature > 0 {
		params.Temperature = ms.Temperature
	}
	if ms.TopP > 0 {
		params.TopP = ms.TopP
	}
	if ms.TopK > 0 {
		params.TopK = ms.TopK
	}
	if ms.MaxOutputTokens > 0 {
		params.MaxOutputTokens = ms.MaxOutputTokens
	}
	params = params.Clamp()

	system := strings.TrimSpace(rec.SystemInstruction)
	if system != "" {
		system += "\n\n"
	}
	system += "Reply with one JSON object that validates against this JSON schema:\n" + prompts.ScriptSchema()
	return ai.GenerateRequest{
		Model:           params.Model,
		SystemPrompt:    system,
		UserPrompt:      userPrompt,
		Temperature:     params.Temperature,
		TopP:            params.TopP,
		TopK:            params.TopK,
		MaxOutputTokens: params.MaxOutputTokens,
		JSON:            true,
	}
}

// EnqueueScript queues a script generation for the worker pool.
func (a *App) EnqueueScript(ctx context.Context, in GenerateScriptInput) (queue.Job, error) {
	if a.queue == nil {
		return queue.Job{}, ErrQueueDisabled
	}
	if _, err := a.scriptPrompt(ctx, in.PromptID); err != nil {
		return queue.Job{}, err
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return queue.Job{}, err
	}
	return a.queue.Enqueue(ctx, queue.KindScript, raw)
}

func (a *App) Job(ctx context.Context, id string) (queue.Job, error) {
	if a.queue == nil {
		return queue.Job{}, ErrQueueDisabled
	}
	job, ok, err := a.queue.GetJob(ctx, id)
	if err != nil {
		return queue.Job{}, err
	}
	if !ok {
		return queue.Job{}, queue.ErrJobNotFound
	}
	return job, nil
}

// CancelJob marks a job canceled. A generation already sent to the AI
// backend still completes there; its result is discarded.
func (a *App) CancelJob(ctx context.Context, id string) (queue.Job, error) {
	if a.queue == nil {
		return queue.Job{}, ErrQueueDisabled
	}
	return a.queue.Cancel(ctx, id)
}

func (a *App) runJob(ctx context.Context, job queue.Job) (json.RawMessage, error) {
	if job.Kind != queue.KindScript {
		return nil, fmt.Errorf("unsupported job kind %q", job.Kind)
	}
	var in GenerateScriptInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, fmt.Errorf("decode job input: %w", err)
	}
	res, err := a.GenerateScript(ctx, in)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"scriptId": res.ScriptID, "warnings": res.Warnings})
}
