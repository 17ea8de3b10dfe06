package andre

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/casbin/govaluate"
)

var (
	errBannedWord        = errors.New("banned word found")
	errInvalidExpression = errors.New("invalid expression")
)

var calcBannedWords = []string{"open", "read", "write", "getline"}

// evaluateExpression computes a `!bc` expression
func evaluateExpression(expr string) (string, error) {
	expr = strings.Trim(expr, " `")
	for _, word := range calcBannedWords {
		if strings.Contains(expr, word) {
			return "", fmt.Errorf("%w: %w", ErrForbidden, errBannedWord)
		}
	}

	expression, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", ErrBadArgument, errInvalidExpression, err)
	}
	result, err := expression.Evaluate(map[string]interface{}{})
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", ErrBadArgument, errInvalidExpression, err)
	}

	switch v := result.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("%w: %w", ErrBadArgument, errInvalidExpression)
	default:
		return fmt.Sprint(v), nil
	}
}
