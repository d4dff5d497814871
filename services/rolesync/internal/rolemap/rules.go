package rolemap

import "strings"

// semanticRule 基于模板显示名和描述的关键词规则
type semanticRule struct {
	name  string
	match func(text string, hierarchy int) (string, bool)
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// semanticRules 按顺序匹配，先命中者生效
var semanticRules = []semanticRule{
	{
		name: "leadership",
		match: func(text string, h int) (string, bool) {
			if h < 80 || !containsAny(text, "manager", "director", "supervisor", "head of") {
				return "", false
			}
			if h >= 90 {
				return RoleExecutiveProducer, true
			}
			return RoleProductionManager, true
		},
	},
	{
		name: "editor",
		match: func(text string, h int) (string, bool) {
			if !containsAny(text, "editor", "editing") {
				return "", false
			}
			if containsAny(text, "assistant", "junior") {
				return RoleAssistantEditor, true
			}
			return RoleEditor, true
		},
	},
	{
		name: "producer",
		match: func(text string, h int) (string, bool) {
			if !containsAny(text, "producer", "production lead") {
				return "", false
			}
			switch {
			case containsAny(text, "executive"):
				return RoleExecutiveProducer, true
			case containsAny(text, "line"):
				return RoleLineProducer, true
			case containsAny(text, "associate", "co-producer", "coproducer"):
				return RoleAssociateProducer, true
			default:
				return RoleProducer, true
			}
		},
	},
	{
		name: "technical",
		match: func(text string, h int) (string, bool) {
			switch {
			case containsAny(text, "camera", "cinematograph"):
				return RoleCameraOperator, true
			case containsAny(text, "sound", "audio"):
				return RoleSoundEngineer, true
			case containsAny(text, "lighting", "gaffer"):
				return RoleLightingTechnician, true
			case containsAny(text, "color", "colour", "grading"):
				return RoleColorist, true
			case containsAny(text, "graphics", "motion", "vfx"):
				return RoleGraphicsDesigner, true
			case containsAny(text, "quality", "qa "):
				return RoleQASpecialist, true
			}
			return "", false
		},
	},
	{
		name: "support",
		match: func(text string, h int) (string, bool) {
			if h < 20 || containsAny(text, "assistant", "intern", "runner", "coordinator", "trainee") {
				return RoleProductionAssist, true
			}
			return "", false
		},
	},
}

// matchSemantic 对模板做关键词匹配，返回角色和命中的规则名
func matchSemantic(tpl *TemplateRole) (string, string, bool) {
	text := strings.ToLower(tpl.DisplayName + " " + tpl.Description + " ")
	for _, r := range semanticRules {
		if role, ok := r.match(text, tpl.Hierarchy); ok {
			return role, r.name, true
		}
	}
	return "", "", false
}

// bandRole 按层级区间兜底
func bandRole(h int) string {
	switch {
	case h >= 90:
		return RoleExecutiveProducer
	case h >= 80:
		return RoleProductionManager
	case h >= 60:
		return RoleProducer
	case h >= 40:
		return RoleEditor
	case h >= 20:
		return RoleProductionAssist
	default:
		return RoleViewer
	}
}
