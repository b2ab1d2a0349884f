// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package rbac

import (
	"time"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// evaluatePolicies runs the resource-policy stage of the precedence chain.
//
// Applicable policies are considered in descending priority order. A policy
// whose principals do not match, or whose conditions fail, is recorded as
// NotApplicable and skipped — a failed condition never converts an Allow
// policy into a denial. The first policy whose principals match and whose
// conditions all pass decides with its declared effect; remaining
// lower-priority policies are not evaluated.
//
// Returns nil when no policy decides, letting the engine fall through to the
// grant-based stages. One PolicyEvaluation per considered policy is appended
// to evaluated for observability.
func (e *Engine) evaluatePolicies(req *types.AccessCheckRequest, now time.Time, evaluated *[]types.PolicyEvaluation) *types.PolicyEffect {
	for _, policy := range e.registry.applicablePolicies(req) {
		if !principalsMatch(policy.Principals, req) {
			*evaluated = append(*evaluated, types.PolicyEvaluation{
				PolicyID:   policy.ID,
				PolicyName: policy.Name,
				Result:     types.PolicyNotApplicable,
			})
			policyEvaluationsTotal.WithLabelValues(string(types.PolicyNotApplicable)).Inc()
			continue
		}

		var condEvals []types.ConditionEvaluation
		conditionsOK := conditionsPass(policy.Conditions, req, now, &condEvals)

		result := types.PolicyNotApplicable
		if conditionsOK {
			if policy.Effect == types.EffectAllow {
				result = types.PolicyAllow
			} else {
				result = types.PolicyDeny
			}
		}

		*evaluated = append(*evaluated, types.PolicyEvaluation{
			PolicyID:            policy.ID,
			PolicyName:          policy.Name,
			Result:              result,
			ConditionsEvaluated: condEvals,
		})
		policyEvaluationsTotal.WithLabelValues(string(result)).Inc()

		switch result {
		case types.PolicyAllow:
			effect := types.EffectAllow
			return &effect
		case types.PolicyDeny:
			effect := types.EffectDeny
			return &effect
		}
	}
	return nil
}

// principalsMatch decides whether the requesting user is among the policy's
// principals: everyone, the resource owner, a listed user, or the holder of
// a listed role or group.
func principalsMatch(principals types.PolicyPrincipals, req *types.AccessCheckRequest) bool {
	if principals.AllAuthenticated {
		return true
	}
	if principals.ResourceOwner &&
		req.Resource.OwnerID != nil &&
		*req.Resource.OwnerID == req.UserContext.UserID {
		return true
	}
	for _, userID := range principals.Users {
		if userID == req.UserContext.UserID {
			return true
		}
	}
	for _, roleID := range req.UserContext.Roles {
		for _, policyRole := range principals.Roles {
			if roleID == policyRole {
				return true
			}
		}
	}
	for _, groupID := range req.UserContext.Groups {
		for _, policyGroup := range principals.Groups {
			if groupID == policyGroup {
				return true
			}
		}
	}
	return false
}
