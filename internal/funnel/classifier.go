// Package funnel implements the conversation funnel state machine: phase
// classification, response matching, escalation tracking, and block
// transitions.
package funnel

import (
	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// PhaseForBlock maps a block id to its coarse funnel phase using stage
// membership. It is total: an empty block id, a block outside every stage,
// or an unmapped stage name all classify as COMPLETED.
func PhaseForBlock(blockID string, graph *models.FunnelGraph) models.Phase {
	if blockID == "" || graph == nil {
		return models.PhaseCompleted
	}
	stage, ok := graph.StageOf(blockID)
	if !ok {
		return models.PhaseCompleted
	}
	switch stage.Name {
	case models.StageWelcome, models.StageValueDelivery:
		return models.PhaseOne
	case models.StageExperienceQualification, models.StagePainPointQualification, models.StageOffer:
		return models.PhaseTwo
	case models.StageTransition:
		return models.PhaseTransition
	default:
		return models.PhaseCompleted
	}
}
