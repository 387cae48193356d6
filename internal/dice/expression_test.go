package dice

import "testing"

func TestParseExpression(t *testing.T) {
	cases := []struct {
		raw     string
		want    Expression
		wantErr bool
	}{
		{raw: "2d6", want: Expression{Count: 2, Sides: 6}},
		{raw: "1d20+5", want: Expression{Count: 1, Sides: 20, Modifier: 5}},
		{raw: "4d8-2", want: Expression{Count: 4, Sides: 8, Modifier: -2}},
		{raw: " 3D10 + 1 ", want: Expression{Count: 3, Sides: 10, Modifier: 1}},
		{raw: "1d100", want: Expression{Count: 1, Sides: 100}},
		{raw: "d20", wantErr: true},
		{raw: "2d", wantErr: true},
		{raw: "two d six", wantErr: true},
		{raw: "0d6", wantErr: true},
		{raw: "21d6", wantErr: true},
		{raw: "2d7", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, testCase := range cases {
		t.Run(testCase.raw, func(t *testing.T) {
			got, err := ParseExpression(testCase.raw)
			if testCase.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", testCase.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("expected %+v, got %+v", testCase.want, got)
			}
		})
	}
}

func TestExpressionString(t *testing.T) {
	if got := (Expression{Count: 2, Sides: 6, Modifier: 3}).String(); got != "2d6+3" {
		t.Fatalf("unexpected canonical form %q", got)
	}
	if got := (Expression{Count: 1, Sides: 20, Modifier: -1}).String(); got != "1d20-1" {
		t.Fatalf("unexpected canonical form %q", got)
	}
	if got := (Expression{Count: 4, Sides: 8}).String(); got != "4d8" {
		t.Fatalf("unexpected canonical form %q", got)
	}
}

func TestRollDiceTotals(t *testing.T) {
	faces := []int{3, 5}
	index := 0
	face := func(sides int) int {
		value := faces[index%len(faces)]
		index++
		return value
	}

	results, total := rollDice(Expression{Count: 2, Sides: 6, Modifier: 2}, false, false, face)
	if len(results) != 2 {
		t.Fatalf("expected two dice, got %d", len(results))
	}
	if total != 3+5+2 {
		t.Fatalf("expected total 10, got %d", total)
	}
	if results[0].Type != "normal" {
		t.Fatalf("expected normal type, got %s", results[0].Type)
	}
}

func TestRollDiceAdvantageTakesHigher(t *testing.T) {
	faces := []int{3, 17}
	index := 0
	face := func(sides int) int {
		value := faces[index%len(faces)]
		index++
		return value
	}

	results, total := rollDice(Expression{Count: 1, Sides: 20}, true, false, face)
	if total != 17 {
		t.Fatalf("advantage should keep the higher face, got %d", total)
	}
	if len(results[0].Rolls) != 2 {
		t.Fatalf("advantage should record both faces, got %v", results[0].Rolls)
	}
	if results[0].Type != "advantage" {
		t.Fatalf("unexpected type %s", results[0].Type)
	}
}

func TestRollDiceDisadvantageTakesLower(t *testing.T) {
	faces := []int{12, 4}
	index := 0
	face := func(sides int) int {
		value := faces[index%len(faces)]
		index++
		return value
	}

	_, total := rollDice(Expression{Count: 1, Sides: 20}, false, true, face)
	if total != 4 {
		t.Fatalf("disadvantage should keep the lower face, got %d", total)
	}
}
