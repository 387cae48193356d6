package dice

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tavernfolk/tavern/internal/fault"
)

const (
	opParse = "dice.parse"

	maxDiceCount = 20
)

var (
	expressionPattern = regexp.MustCompile(`^(\d+)d(\d+)([+-]\d+)?$`)

	allowedSides = map[int]bool{4: true, 6: true, 8: true, 10: true, 12: true, 20: true, 100: true}
)

// Expression is a parsed dice expression such as "2d6+3".
type Expression struct {
	Count    int
	Sides    int
	Modifier int
}

// String renders the canonical lowercase form.
func (e Expression) String() string {
	out := strconv.Itoa(e.Count) + "d" + strconv.Itoa(e.Sides)
	if e.Modifier > 0 {
		out += "+" + strconv.Itoa(e.Modifier)
	} else if e.Modifier < 0 {
		out += strconv.Itoa(e.Modifier)
	}
	return out
}

// ParseExpression parses "XdY", "XdY+Z", or "XdY-Z". Whitespace and
// case are ignored.
func ParseExpression(raw string) (Expression, error) {
	cleaned := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "")
	match := expressionPattern.FindStringSubmatch(cleaned)
	if match == nil {
		return Expression{}, fault.New(fault.KindValidation, opParse, "invalid_expression", nil)
	}

	count, err := strconv.Atoi(match[1])
	if err != nil {
		return Expression{}, fault.New(fault.KindValidation, opParse, "invalid_expression", err)
	}
	sides, err := strconv.Atoi(match[2])
	if err != nil {
		return Expression{}, fault.New(fault.KindValidation, opParse, "invalid_expression", err)
	}
	modifier := 0
	if match[3] != "" {
		modifier, err = strconv.Atoi(match[3])
		if err != nil {
			return Expression{}, fault.New(fault.KindValidation, opParse, "invalid_expression", err)
		}
	}

	if count < 1 || count > maxDiceCount {
		return Expression{}, fault.New(fault.KindValidation, opParse, "invalid_dice_count", nil)
	}
	if !allowedSides[sides] {
		return Expression{}, fault.New(fault.KindValidation, opParse, "invalid_die_type", nil)
	}

	return Expression{Count: count, Sides: sides, Modifier: modifier}, nil
}

// DieResult records one die's outcome. With advantage or disadvantage
// the die is rolled twice and Rolls holds both values.
type DieResult struct {
	Rolls []int  `json:"rolls"`
	Final int    `json:"final"`
	Type  string `json:"type"`
}

// rollDice rolls the expression with the supplied face generator, which
// returns a value in [1, sides].
func rollDice(expr Expression, advantage, disadvantage bool, face func(sides int) int) ([]DieResult, int) {
	results := make([]DieResult, 0, expr.Count)
	for i := 0; i < expr.Count; i++ {
		switch {
		case advantage:
			first, second := face(expr.Sides), face(expr.Sides)
			results = append(results, DieResult{Rolls: []int{first, second}, Final: max(first, second), Type: "advantage"})
		case disadvantage:
			first, second := face(expr.Sides), face(expr.Sides)
			results = append(results, DieResult{Rolls: []int{first, second}, Final: min(first, second), Type: "disadvantage"})
		default:
			value := face(expr.Sides)
			results = append(results, DieResult{Rolls: []int{value}, Final: value, Type: "normal"})
		}
	}

	total := expr.Modifier
	for _, result := range results {
		total += result.Final
	}
	return results, total
}
