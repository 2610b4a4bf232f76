package pipeline

// DefaultTemplateID is the template used when none is configured.
const DefaultTemplateID = "short-video"

// BuiltinTemplates returns the set of built-in pipeline templates.
func BuiltinTemplates() []Template {
	return []Template{
		shortVideo(),
		singleDraft(),
	}
}

// shortVideo fans out from research to hook and concept in parallel, then
// merges both into a script: research → (hook ∥ concept) → script.
func shortVideo() Template {
	return Template{
		ID:          "short-video",
		Name:        "Short Video Script",
		Description: "Research a theme, draft hook and concept in parallel, merge them into a script.",
		Builtin:     true,
		MaxParallel: 2,
		Stages: []Stage{
			{Name: "research", Agent: "research"},
			{Name: "hook", Agent: "hook", DependsOn: []int{0}},
			{Name: "concept", Agent: "concept", DependsOn: []int{0}},
			{Name: "script", Agent: "script_writer", DependsOn: []int{1, 2}},
		},
		Review:  StageRef{Agent: "reviewer"},
		Improve: StageRef{Agent: "improver"},
	}
}

// singleDraft has one generation stage feeding the review loop.
func singleDraft() Template {
	return Template{
		ID:          "single-draft",
		Name:        "Single Draft",
		Description: "One writer stage followed by the review/improve loop.",
		Builtin:     true,
		MaxParallel: 1,
		Stages: []Stage{
			{Name: "script", Agent: "script_writer"},
		},
		Review:  StageRef{Agent: "reviewer"},
		Improve: StageRef{Agent: "improver"},
	}
}
