// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package rbac

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// EvaluateCondition checks one condition against the live request context.
// It returns whether the condition passed and the observed value, if any.
//
// Malformed condition values (non-numeric thresholds, invalid regular
// expressions) fail the single condition rather than aborting the decision:
// one bad policy row must not take down unrelated authorization checks.
func EvaluateCondition(cond types.PermissionCondition, req *types.AccessCheckRequest, now time.Time) (bool, *string) {
	switch cond.Type {
	case types.ConditionMfaVerified:
		actual := req.UserContext.MfaVerified
		expected := cond.Value == "true"
		return actual == expected, strPtr(strconv.FormatBool(actual))

	case types.ConditionIPAddress:
		if req.UserContext.IPAddress == nil {
			return false, nil
		}
		ip := *req.UserContext.IPAddress
		return matchOperator(cond.Operator, ip, cond.Value), strPtr(ip)

	case types.ConditionDeviceType:
		if req.UserContext.DeviceType == nil {
			return false, nil
		}
		device := *req.UserContext.DeviceType
		return matchOperator(cond.Operator, device, cond.Value), strPtr(device)

	case types.ConditionSessionAge:
		age := int64(now.Sub(req.UserContext.SessionCreatedAt).Seconds())
		threshold, err := strconv.ParseInt(cond.Value, 10, 64)
		if err != nil {
			slog.Warn("session_age condition has non-numeric threshold, failing condition",
				"value", cond.Value)
			return false, strPtr(strconv.FormatInt(age, 10))
		}
		var passed bool
		switch cond.Operator {
		case types.OperatorLessThan:
			passed = age < threshold
		case types.OperatorGreaterThan:
			passed = age > threshold
		default:
			passed = age <= threshold
		}
		return passed, strPtr(strconv.FormatInt(age, 10))

	case types.ConditionResourceOwner:
		if req.Resource.OwnerID == nil {
			// No owner on record: only an explicit "not the owner"
			// expectation can pass.
			return cond.Value == "false", nil
		}
		isOwner := *req.Resource.OwnerID == req.UserContext.UserID
		expected := cond.Value == "true"
		return isOwner == expected, strPtr(strconv.FormatBool(isOwner))

	case types.ConditionResourceTag, types.ConditionCustom:
		// The condition value names an action-context key; presence is
		// success, the stored value is informational.
		if v, ok := req.ActionContext[cond.Value]; ok {
			return true, strPtr(v)
		}
		return false, nil

	case types.ConditionTimeOfDay, types.ConditionDayOfWeek, types.ConditionLocation:
		// Reserved extension points: approved without enforcement.
		// Logged so deployments relying on these notice the gap.
		slog.Warn("condition type is not enforced, passing",
			"condition_type", string(cond.Type))
		return true, nil

	default:
		return false, nil
	}
}

// conditionsPass evaluates a condition list with AND semantics, appending one
// ConditionEvaluation per check to evals when evals is non-nil. Evaluation
// stops at the first failure.
func conditionsPass(conds []types.PermissionCondition, req *types.AccessCheckRequest, now time.Time, evals *[]types.ConditionEvaluation) bool {
	for _, cond := range conds {
		passed, actual := EvaluateCondition(cond, req, now)
		if evals != nil {
			*evals = append(*evals, types.ConditionEvaluation{
				Condition:   cond,
				Passed:      passed,
				ActualValue: actual,
			})
		}
		if !passed {
			return false
		}
	}
	return true
}

// matchOperator compares a string context field against the expected value.
// In/NotIn treat expected as a comma-separated list; Matches treats it as a
// regular expression; GreaterThan/LessThan parse both sides as integers.
func matchOperator(op types.ConditionOperator, actual, expected string) bool {
	switch op {
	case types.OperatorEquals:
		return actual == expected
	case types.OperatorNotEquals:
		return actual != expected
	case types.OperatorContains:
		return strings.Contains(actual, expected)
	case types.OperatorStartsWith:
		return strings.HasPrefix(actual, expected)
	case types.OperatorEndsWith:
		return strings.HasSuffix(actual, expected)
	case types.OperatorIn:
		return inList(actual, expected)
	case types.OperatorNotIn:
		return !inList(actual, expected)
	case types.OperatorMatches:
		re, err := regexp.Compile(expected)
		if err != nil {
			slog.Warn("matches condition has invalid regular expression, failing condition",
				"pattern", expected, "error", err)
			return false
		}
		return re.MatchString(actual)
	case types.OperatorGreaterThan, types.OperatorLessThan:
		a, errA := strconv.ParseInt(actual, 10, 64)
		e, errE := strconv.ParseInt(expected, 10, 64)
		if errA != nil || errE != nil {
			return false
		}
		if op == types.OperatorGreaterThan {
			return a > e
		}
		return a < e
	default:
		return false
	}
}

func inList(actual, list string) bool {
	for _, v := range strings.Split(list, ",") {
		if strings.TrimSpace(v) == actual {
			return true
		}
	}
	return false
}

func strPtr(s string) *string {
	return &s
}
