// Package models defines the core data structures for the funnel engine.
//
// It includes the funnel graph, conversation records, and shared enums used
// across modules.
package models

import (
	"errors"
	"fmt"
)

// StageName identifies a named grouping of funnel blocks.
type StageName string

const (
	// StageWelcome is the opening stage of the free-value phase.
	StageWelcome StageName = "WELCOME"
	// StageValueDelivery delivers the free resource.
	StageValueDelivery StageName = "VALUE_DELIVERY"
	// StageTransition hands the conversation off between phases.
	StageTransition StageName = "TRANSITION"
	// StageExperienceQualification asks about the user's experience level.
	StageExperienceQualification StageName = "EXPERIENCE_QUALIFICATION"
	// StagePainPointQualification asks about the user's pain points.
	StagePainPointQualification StageName = "PAIN_POINT_QUALIFICATION"
	// StageOffer presents the paid offer.
	StageOffer StageName = "OFFER"
)

// IsValidStageName checks if the given stage name is supported.
func IsValidStageName(name StageName) bool {
	switch name {
	case StageWelcome, StageValueDelivery, StageTransition,
		StageExperienceQualification, StagePainPointQualification, StageOffer:
		return true
	default:
		return false
	}
}

// Phase is the coarse classification of where a conversation sits in the funnel.
type Phase string

const (
	// PhaseOne covers the free-value stages (WELCOME, VALUE_DELIVERY).
	PhaseOne Phase = "PHASE1"
	// PhaseTwo covers the qualification and offer stages.
	PhaseTwo Phase = "PHASE2"
	// PhaseTransition covers the TRANSITION stage between the two phases.
	PhaseTransition Phase = "TRANSITION"
	// PhaseCompleted means the block is outside every stage (funnel end).
	PhaseCompleted Phase = "COMPLETED"
)

// Validation error variables for funnel graphs.
var (
	ErrEmptyStartBlock     = errors.New("funnel start block is required")
	ErrStartBlockMissing   = errors.New("funnel start block does not exist in blocks")
	ErrUnknownStageName    = errors.New("unknown stage name")
	ErrStageBlockMissing   = errors.New("stage references a block that does not exist")
	ErrDuplicateStageBlock = errors.New("block belongs to more than one stage")
	ErrDanglingOption      = errors.New("option references a block that does not exist")
)

// Option is one selectable edge out of a block. An empty NextBlockID marks a
// terminal edge (funnel end or escape hatch).
type Option struct {
	Text        string `json:"text"`
	NextBlockID string `json:"nextBlockId,omitempty"`
}

// Block is one node in the funnel graph.
type Block struct {
	ID           string   `json:"id"`
	Message      string   `json:"message"`
	Options      []Option `json:"options,omitempty"`
	ResourceName string   `json:"resourceName,omitempty"`
}

// Stage is a named grouping of blocks used for phase classification.
type Stage struct {
	ID       string    `json:"id"`
	Name     StageName `json:"name"`
	BlockIDs []string  `json:"blockIds"`
}

// FunnelGraph is the immutable, in-memory representation of one funnel
// version: a directed conversation graph of stages, blocks, and options.
// A graph is constructed once per funnel version and never mutated while a
// conversation references it.
type FunnelGraph struct {
	StartBlockID string           `json:"startBlockId"`
	Stages       []Stage          `json:"stages"`
	Blocks       map[string]Block `json:"blocks"`
}

// Validate checks the structural invariants of the graph: the start block and
// every referenced block exist, stage names are known, and no block belongs to
// more than one stage.
func (g *FunnelGraph) Validate() error {
	if g.StartBlockID == "" {
		return ErrEmptyStartBlock
	}
	if _, ok := g.Blocks[g.StartBlockID]; !ok {
		return fmt.Errorf("%w: %s", ErrStartBlockMissing, g.StartBlockID)
	}

	seen := make(map[string]string) // blockID -> stageID
	for _, stage := range g.Stages {
		if !IsValidStageName(stage.Name) {
			return fmt.Errorf("%w: %q in stage %s", ErrUnknownStageName, stage.Name, stage.ID)
		}
		for _, blockID := range stage.BlockIDs {
			if _, ok := g.Blocks[blockID]; !ok {
				return fmt.Errorf("%w: block %s in stage %s", ErrStageBlockMissing, blockID, stage.ID)
			}
			if prior, dup := seen[blockID]; dup {
				return fmt.Errorf("%w: block %s in stages %s and %s", ErrDuplicateStageBlock, blockID, prior, stage.ID)
			}
			seen[blockID] = stage.ID
		}
	}

	for _, block := range g.Blocks {
		for _, opt := range block.Options {
			if opt.NextBlockID == "" {
				continue // terminal edge
			}
			if _, ok := g.Blocks[opt.NextBlockID]; !ok {
				return fmt.Errorf("%w: option %q on block %s -> %s", ErrDanglingOption, opt.Text, block.ID, opt.NextBlockID)
			}
		}
	}
	return nil
}

// Block returns the block with the given id, or false if absent.
func (g *FunnelGraph) Block(id string) (Block, bool) {
	b, ok := g.Blocks[id]
	return b, ok
}

// StageOf returns the stage containing the given block id, or false if the
// block is outside every stage.
func (g *FunnelGraph) StageOf(blockID string) (Stage, bool) {
	for _, stage := range g.Stages {
		for _, id := range stage.BlockIDs {
			if id == blockID {
				return stage, true
			}
		}
	}
	return Stage{}, false
}

// Funnel couples a stored funnel graph with its identity.
type Funnel struct {
	ID           string      `json:"id"`
	ExperienceID string      `json:"experience_id"`
	Name         string      `json:"name,omitempty"`
	Graph        FunnelGraph `json:"graph"`
}
