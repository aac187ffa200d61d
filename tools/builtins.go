package tools

const (
	Calculator = "calculator"
	DateTime   = "datetime"
	Random     = "random"
)

func init() {
	MustRegisterTool(
		Calculator,
		"Evaluate arithmetic expressions with +, -, *, /, and parentheses.",
		func(Env) Tool { return NewCalculator() },
	)
	MustRegisterTool(
		DateTime,
		"Report the current local date and time.",
		func(env Env) Tool { return NewDateTime(env.Now) },
	)
	MustRegisterTool(
		Random,
		"Generate a random integer in [min, max] or a random decimal in [0, 1).",
		func(env Env) Tool { return NewRandom(env.Rand) },
	)
}
