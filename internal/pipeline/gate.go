package pipeline

import (
	"errors"
	"fmt"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
)

// GateDecision is the tagged variant a gate check resolves to (§4.G) —
// deliberately not a string switch, so every call site handles all three
// cases explicitly.
type GateDecision int

const (
	Proceed GateDecision = iota
	PauseForReview
	PauseForApproval
)

// ErrUnregisteredStage is returned when a caller names a stage that is not
// in the Stage Registry — a caller error, not a gate decision (§4.G).
var ErrUnregisteredStage = errors.New("pipeline: unregistered stage")

// ErrNotInReview is returned by Approve when the target stage is not
// currently awaiting review (§4.G "Idempotence").
var ErrNotInReview = errors.New("pipeline: stage is not awaiting review")

// ErrApprovalContentRejected is returned by Approve when content is
// supplied for a stage gated approve_only (§4.G "rejected with a
// validation error if the gate was PauseForApproval").
var ErrApprovalContentRejected = errors.New("pipeline: approve_only stage content may not be overwritten")

// CheckGate resolves the gate decision for post at stage, per the
// configured mode (defaulting per content.Post.ModeFor). An unregistered
// stage is a caller error. log may be nil; when non-nil, an unrecognized
// mode string is logged as a warning before falling back, mirroring the
// original gate's `logger.warning("unknown mode '%s', defaulting to
// review")`.
func CheckGate(post *content.Post, stage content.Stage, log *logger.Logger) (GateDecision, error) {
	if !content.IsRegistered(string(stage)) {
		return Proceed, fmt.Errorf("%w: %s", ErrUnregisteredStage, stage)
	}
	if raw, ok := post.StageSettingsMap()[string(stage)]; ok && log != nil {
		if _, recognized := post.ModeConfigured(stage); !recognized {
			log.Warn("unknown gate mode, defaulting", "stage", string(stage), "mode", raw)
		}
	}
	switch post.ModeFor(stage) {
	case content.ModeAuto:
		return Proceed, nil
	case content.ModeReview:
		return PauseForReview, nil
	case content.ModeApproveOnly:
		return PauseForApproval, nil
	default:
		return Proceed, nil
	}
}

// ApprovalInput is what the Approval API's approve(post_id, content?)
// operation supplies to the Gate Controller.
type ApprovalInput struct {
	Stage   content.Stage
	Content *string // optional content overwrite (§4.G step 1)
}

// Approve applies an external approval to post, mutating it in place. The
// caller (internal/api) is responsible for persisting post afterward and
// enqueuing the resumed full-pipeline run (§4.G step 4).
//
// Returns ErrNotInReview if the stage isn't currently awaiting review, and
// ErrApprovalContentRejected if content is supplied for a stage gated
// approve_only — both synchronous 400-class errors (§7 "Validation / 4xx").
func Approve(post *content.Post, in ApprovalInput, log *logger.Logger) (nextStage content.Stage, err error) {
	if !content.IsRegistered(string(in.Stage)) {
		return "", fmt.Errorf("%w: %s", ErrUnregisteredStage, in.Stage)
	}
	if post.StatusFor(in.Stage) != content.StatusReview {
		return "", ErrNotInReview
	}

	decision, gerr := CheckGate(post, in.Stage, log)
	if gerr != nil {
		return "", gerr
	}
	if decision == PauseForApproval && in.Content != nil {
		return "", ErrApprovalContentRejected
	}
	if decision == PauseForReview && in.Content != nil {
		setStageContent(post, in.Stage, *in.Content)
	}

	statuses := post.StageStatusMap()
	statuses[string(in.Stage)] = string(content.StatusComplete)
	post.SetStageStatusMap(statuses)

	next := NextIncomplete(in.Stage, statuses)
	if next == "" {
		post.CurrentStage = content.StateComplete
	} else {
		post.CurrentStage = string(next)
	}
	return next, nil
}

func setStageContent(post *content.Post, stage content.Stage, value string) {
	switch stage {
	case content.StageResearch:
		post.ResearchContent = value
	case content.StageOutline:
		post.OutlineContent = value
	case content.StageWrite:
		post.DraftContent = value
	case content.StageEdit:
		post.FinalMDContent = value
	case content.StageImages:
		post.ImageManifest = []byte(value)
	case content.StageReady:
		post.ReadyContent = value
	}
}
