package session

import "github.com/dharsanguruparan/ptmscout/internal/model"

var stageOrder = map[model.SessionStage]int{
	model.StageConfig:    0,
	model.StageMetadata:  1,
	model.StageCondition: 2,
	model.StageConfirm:   3,
	model.StageComplete:  4,
}

// Next returns the stage that follows s. Complete has no successor.
func Next(s model.SessionStage) (model.SessionStage, bool) {
	switch s {
	case model.StageConfig:
		return model.StageMetadata, true
	case model.StageMetadata:
		return model.StageCondition, true
	case model.StageCondition:
		return model.StageConfirm, true
	case model.StageConfirm:
		return model.StageComplete, true
	}
	return "", false
}

// CanEnter reports whether a session at current may show or save the form of
// target. Earlier stages may be revisited; later ones cannot be skipped to,
// and a complete session is read-only.
func CanEnter(current, target model.SessionStage) bool {
	cur, ok := stageOrder[current]
	if !ok || current == model.StageComplete {
		return false
	}
	tgt, ok := stageOrder[target]
	if !ok || target == model.StageComplete {
		return false
	}
	return tgt <= cur
}
