package domain

// Exercise is a code card: a prompt plus the rule set its answers are assessed against
type Exercise struct {
	ID         string // slug: "javascript-easy/functions/add"
	PackID     string // "javascript-easy"
	Title      string
	Prompt     string
	Language   string
	Difficulty Difficulty
	Tags       []string
	Reference  string // reference solution, never shown to learners
	AutoRules  bool   // rule set was synthesized from Reference
	RuleSet    *RuleSet
}

// Difficulty represents exercise difficulty level
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// ExercisePack represents a collection of related exercises
type ExercisePack struct {
	ID          string
	Name        string
	Version     string
	Description string
	Language    string
	ExerciseIDs []string // ordered list of exercise slugs
}

// Rules returns the exercise's rules in declaration order
func (e *Exercise) Rules() []Rule {
	if e.RuleSet == nil {
		return nil
	}
	return e.RuleSet.Declared()
}
