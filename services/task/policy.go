package task

import (
	"fmt"

	"taskdesk/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/zap"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"

	// roleAssignee is granted on top of the actor's own role when the actor
	// is the task's current assignee.
	roleAssignee = "assignee"
)

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID   string
	Role string
}

const defaultModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`

var defaultPolicies = [][]string{
	{RoleManager, string(OpCreate)},
	{RoleManager, string(OpReject)},
	{RoleManager, string(OpComplete)},
	{RoleManager, string(OpReassign)},
	{RoleManager, string(OpAcceptRetry)},
	{RoleManager, string(OpAddRemark)},
	{RoleManager, string(OpAddSubtask)},
	{RoleManager, string(OpCompleteSubtask)},
	{RoleManager, string(OpAddComment)},
	{RoleManager, string(OpDelete)},
	{RoleManager, string(OpRunScan)},
	{RoleManager, string(OpListAll)},

	{roleAssignee, string(OpAccept)},
	{roleAssignee, string(OpReject)},
	{roleAssignee, string(OpComplete)},
	{roleAssignee, string(OpReassign)},
	{roleAssignee, string(OpRequestRetry)},
	{roleAssignee, string(OpAddRemark)},
	{roleAssignee, string(OpAddSubtask)},
	{roleAssignee, string(OpCompleteSubtask)},
	{roleAssignee, string(OpAddComment)},

	{RoleStaff, string(OpView)},
	{RoleStaff, string(OpAddComment)},
}

var defaultGroupings = [][]string{
	{RoleAdmin, RoleManager},
	{RoleManager, RoleStaff},
}

// Policy answers every "may this actor do that" question in one place.
type Policy struct {
	enforcer *casbin.Enforcer
}

// NewPolicy loads ACCESS_CONTROL.MODEL / ACCESS_CONTROL.POLICY files when
// both are configured and falls back to the built-in role table otherwise.
func NewPolicy(cfg *config.Config) (*Policy, error) {
	if cfg != nil && cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		e, err := casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
		if err != nil {
			return nil, fmt.Errorf("load access control: %w", err)
		}
		zap.L().Info("loaded access control policy", zap.String("model", cfg.AccessControl.Model), zap.String("policy", cfg.AccessControl.Policy))
		return &Policy{enforcer: e}, nil
	}
	return NewDefaultPolicy()
}

func NewDefaultPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}
	if _, err := e.AddGroupingPolicies(defaultGroupings); err != nil {
		return nil, err
	}
	return &Policy{enforcer: e}, nil
}

// CanTransition reports whether actor may run op on t. t is nil for
// operations that do not target an existing task.
func (p *Policy) CanTransition(actor Actor, t *Task, op Operation) bool {
	if actor.ID == "" {
		return false
	}
	subjects := []string{actor.Role}
	if t != nil && actor.ID == t.AssignedTo {
		subjects = append(subjects, roleAssignee)
	}
	for _, sub := range subjects {
		if sub == "" {
			continue
		}
		ok, err := p.enforcer.Enforce(sub, string(op))
		if err != nil {
			zap.L().Error("access control evaluation failed", zap.String("subject", sub), zap.String("operation", string(op)), zap.Error(err))
			return false
		}
		if ok {
			return true
		}
	}
	return false
}
