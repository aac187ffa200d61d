package tools

import (
	"context"
	"encoding/json"
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"2+2", 4},
		{"(2+3)*4", 20},
		{" 10 / 4 ", 2.5},
		{"-3 + +1", -2},
		{"1.5*2", 3},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.expr)
		if err != nil {
			t.Fatalf("Evaluate(%q) failed: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluate_DivisionByZero(t *testing.T) {
	got, err := Evaluate("10/0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsInf(got, 1) {
		t.Fatalf("expected +Inf, got %v", got)
	}
}

func TestEvaluate_RejectsNonArithmetic(t *testing.T) {
	for _, expr := range []string{"", "   ", "os.Exit(1)", "x+1", "\"a\"+1", "2 % 3", "(2+", "2 << 1"} {
		if _, err := Evaluate(expr); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	cases := map[float64]string{
		4:           "4",
		2.5:         "2.5",
		-0.0:        "0",
		1e21:        "1e+21",
		1e-7:        "1e-7",
		0.000001:    "0.000001",
		math.Inf(1): "Infinity",
	}
	for in, want := range cases {
		if got := FormatNumber(in); got != want {
			t.Fatalf("FormatNumber(%v) = %q, want %q", in, got, want)
		}
	}
	if got := FormatNumber(math.Inf(-1)); got != "-Infinity" {
		t.Fatalf("unexpected -Inf rendering %q", got)
	}
	if got := FormatNumber(math.NaN()); got != "NaN" {
		t.Fatalf("unexpected NaN rendering %q", got)
	}
}

func TestCalculatorTool(t *testing.T) {
	calc := NewCalculator()
	out, err := calc.Execute(context.Background(), json.RawMessage(`{"expression":"10/0"}`))
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out != "Result: Infinity" {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := calc.Execute(context.Background(), json.RawMessage(`{"expression":"2 +"}`)); err == nil || err.Error() != "Invalid mathematical expression" {
		t.Fatalf("expected invalid expression error, got %v", err)
	}
}
