package tooling

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"spellcast/internal/domain"
)

// CalculatorInput is the validated form of a calculate invocation.
type CalculatorInput struct {
	Operation string  `json:"operation" jsonschema:"enum=add,enum=subtract,enum=multiply,enum=divide,enum=power,enum=modulo"`
	A         float64 `json:"a"`
	B         float64 `json:"b"`
}

var calculatorSchema = sync.OnceValue(func() string {
	return GenerateSchema(CalculatorInput{})
})

// CalculateTool returns the calculate descriptor.
func CalculateTool() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        "calculate",
		Description: "Applies an arithmetic operation to two numbers",
		Args: []domain.ArgSpec{
			{Name: "operation", Required: true, Description: "one of add, subtract, multiply, divide, power, modulo"},
			{Name: "a", Required: true, Description: "first operand"},
			{Name: "b", Required: true, Description: "second operand"},
		},
		Func: func(ctx context.Context, args []string) (string, error) {
			if err := checkArgs("calculate", args, 3, 3); err != nil {
				return "", err
			}
			a, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return "", fmt.Errorf("operand a %q is not a number", args[1])
			}
			b, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return "", fmt.Errorf("operand b %q is not a number", args[2])
			}
			doc := map[string]any{"operation": args[0], "a": a, "b": b}
			if err := ValidateAgainstSchema(doc, calculatorSchema()); err != nil {
				return "", fmt.Errorf("input validation failed: %w", err)
			}
			result, err := calculate(CalculatorInput{Operation: args[0], A: a, B: b})
			if err != nil {
				return "", err
			}
			return strconv.FormatFloat(result, 'f', -1, 64), nil
		},
	}
}

// calculate performs the arithmetic and is separated from the tool func so
// every branch can be unit-tested without schema validation.
func calculate(input CalculatorInput) (float64, error) {
	switch input.Operation {
	case "add":
		return input.A + input.B, nil
	case "subtract":
		return input.A - input.B, nil
	case "multiply":
		return input.A * input.B, nil
	case "divide":
		if input.B == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return input.A / input.B, nil
	case "power":
		return math.Pow(input.A, input.B), nil
	case "modulo":
		if input.B == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return math.Mod(input.A, input.B), nil
	default:
		return 0, fmt.Errorf("unknown operation: %s", input.Operation)
	}
}
