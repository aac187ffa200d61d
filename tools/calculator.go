package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"
)

var errInvalidExpression = errors.New("Invalid mathematical expression")

type calculatorArgs struct {
	Expression string `json:"expression" jsonschema_description:"Arithmetic expression to evaluate, e.g. (2+3)*4 or 10/5."`
}

func NewCalculator() Tool {
	return NewFuncTool(
		Calculator,
		"Evaluate arithmetic expressions with +, -, *, /, and parentheses.",
		SchemaFor[calculatorArgs](),
		func(ctx context.Context, args json.RawMessage) (string, error) {
			_ = ctx
			var in calculatorArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return "", errInvalidExpression
			}
			val, err := Evaluate(in.Expression)
			if err != nil {
				return "", errInvalidExpression
			}
			return "Result: " + FormatNumber(val), nil
		},
	)
}

// Evaluate computes an arithmetic expression made of numeric literals,
// parentheses, unary + and -, and binary + - * /. Division by zero follows
// IEEE-754 and yields an infinity or NaN.
func Evaluate(expression string) (float64, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return 0, fmt.Errorf("expression is required")
	}
	parsed, err := parser.ParseExpr(expression)
	if err != nil {
		return 0, fmt.Errorf("failed to parse expression: %w", err)
	}
	return evalNode(parsed)
}

func evalNode(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal: %s", n.Value)
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(n.Value, "_", ""), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", n.Value, err)
		}
		return v, nil

	case *ast.ParenExpr:
		return evalNode(n.X)

	case *ast.UnaryExpr:
		v, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return v, nil
		case token.SUB:
			return -v, nil
		default:
			return 0, fmt.Errorf("unsupported unary operator: %s", n.Op)
		}

	case *ast.BinaryExpr:
		left, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		right, err := evalNode(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return left + right, nil
		case token.SUB:
			return left - right, nil
		case token.MUL:
			return left * right, nil
		case token.QUO:
			return left / right, nil
		default:
			return 0, fmt.Errorf("unsupported operator: %s", n.Op)
		}

	default:
		return 0, fmt.Errorf("unsupported expression type: %T", node)
	}
}

// FormatNumber renders v the way a browser prints a number: shortest
// round-trip digits, exponent notation below 1e-6 or from 1e21 up, and the
// words Infinity and NaN for the IEEE special values.
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}
	abs := math.Abs(v)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
