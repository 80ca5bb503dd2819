package gate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
)

// Extract reads the number at a dotted path ("test_score.RMSE", with an
// optional "$." prefix) from a JSON document. A missing path is a platform
// error: there is no default value.
func Extract(doc []byte, path string) (float64, error) {
	var root any
	if err := json.Unmarshal(doc, &root); err != nil {
		return 0, errs.Platform("evaluate condition", fmt.Errorf("property file is not JSON: %w", err))
	}

	keys := splitPath(path)
	if len(keys) == 0 {
		return 0, errs.NewValidationError("json path", fmt.Sprintf("path %q is empty", path))
	}

	cur := root
	for i, key := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return 0, errs.Platform("evaluate condition", fmt.Errorf("json path %q: %s is not an object: %w", path, strings.Join(keys[:i], "."), errs.ErrNotFound))
		}
		next, ok := obj[key]
		if !ok {
			return 0, errs.Platform("evaluate condition", fmt.Errorf("json path %q not found: %w", path, errs.ErrNotFound))
		}
		cur = next
	}

	switch n := cur.(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, errs.Platform("evaluate condition", fmt.Errorf("json path %q holds %v, not a number", path, cur))
}

func splitPath(path string) []string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Compare applies op to left and right. Equality satisfies the inclusive operators.
func Compare(op model.Operator, left, right float64) (bool, error) {
	switch op {
	case model.LessThanOrEqualTo:
		return left <= right, nil
	case model.LessThan:
		return left < right, nil
	case model.GreaterThan:
		return left > right, nil
	case model.GreaterThanOrEqualTo:
		return left >= right, nil
	case model.Equals:
		return left == right, nil
	}
	return false, errs.NewValidationError("condition", fmt.Sprintf("unknown operator %q", op))
}

// Evaluate decides a predicate against the property file it reads.
// True selects the if branch.
func Evaluate(pred model.Predicate, doc []byte) (bool, error) {
	if pred.Left.Kind != model.ValueJsonGet || pred.Left.JsonGet == nil {
		return false, errs.NewValidationError("condition", "left side is not a property file lookup")
	}
	right, ok := pred.Right.Float()
	if !ok {
		return false, errs.NewValidationError("condition", fmt.Sprintf("right side %s is not a number", pred.Right))
	}

	left, err := Extract(doc, pred.Left.JsonGet.Path)
	if err != nil {
		return false, err
	}
	return Compare(pred.Operator, left, right)
}
