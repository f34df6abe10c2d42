package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"mongoinit/config"
	"mongoinit/storage"
)

// PlanAction is what Run would do for a step
type PlanAction string

const (
	ActionCreate   PlanAction = "create"
	ActionNoop     PlanAction = "noop"
	ActionUpdate   PlanAction = "update"
	ActionSkip     PlanAction = "skip"
	ActionConflict PlanAction = "conflict"
	ActionVerify   PlanAction = "verify"
)

// PlannedStep is one line of a dry run
type PlannedStep struct {
	Step   string     `json:"step" yaml:"step"`
	Action PlanAction `json:"action" yaml:"action"`
	Target string     `json:"target" yaml:"target"`
	Detail string     `json:"detail,omitempty" yaml:"detail,omitempty"`

	err error
}

// Plan is the outcome of a dry run
type Plan struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Database   string        `json:"database" yaml:"database"`
	Collection string        `json:"collection" yaml:"collection"`
	User       string        `json:"user" yaml:"user"`
	Steps      []PlannedStep `json:"steps" yaml:"steps"`
}

// Err returns the error Run would fail with, or nil when the plan has no conflict.
func (p *Plan) Err() error {
	for _, s := range p.Steps {
		if s.err != nil {
			return s.err
		}
	}
	return nil
}

// Plan authenticates as admin and reads the collection and user catalog without changing anything.
func (b *Bootstrapper) Plan(ctx context.Context) (*Plan, error) {
	result := b.newResult()
	log := b.logger.With("run_id", result.RunID, "dry_run", true)

	plan := &Plan{
		RunID:      result.RunID,
		Database:   b.in.Database,
		Collection: b.in.Collection,
		User:       b.in.AppUser,
	}

	admin, err := b.dialAdmin(ctx, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := admin.Close(context.Background()); cerr != nil {
			log.Warnw("Failed to close admin session", "error", cerr)
		}
	}()

	collStep, err := b.planCollection(ctx, admin)
	if err != nil {
		return nil, err
	}
	plan.Steps = append(plan.Steps, collStep)

	userStep, err := b.planUser(ctx, admin)
	if err != nil {
		return nil, err
	}
	plan.Steps = append(plan.Steps, userStep)

	plan.Steps = append(plan.Steps, PlannedStep{
		Step:   StepVerifyUser,
		Action: ActionVerify,
		Target: b.in.AppUser + "@" + b.in.Database,
		Detail: "authenticate with " + b.in.AppMechanism,
	})

	for _, s := range plan.Steps {
		log.Infow("Planned step", "step", s.Step, "action", string(s.Action), "target", s.Target)
	}
	return plan, nil
}

func (b *Bootstrapper) planCollection(ctx context.Context, admin storage.Admin) (PlannedStep, error) {
	step := PlannedStep{
		Step:   StepEnsureCollection,
		Target: b.in.Database + "." + b.in.Collection,
	}

	exists, err := admin.CollectionExists(ctx, b.in.Database, b.in.Collection)
	if err != nil {
		return step, err
	}
	if exists {
		step.Action = ActionNoop
		step.Detail = "collection exists"
	} else {
		step.Action = ActionCreate
	}
	return step, nil
}

func (b *Bootstrapper) planUser(ctx context.Context, admin storage.Admin) (PlannedStep, error) {
	db, user := b.in.Database, b.in.AppUser
	spec := b.in.AppUserSpec()
	step := PlannedStep{
		Step:   StepEnsureUser,
		Target: user + "@" + db,
	}

	existing, err := admin.GetUser(ctx, db, user)
	if errors.Is(err, storage.ErrUserNotFound) {
		step.Action = ActionCreate
		step.Detail = fmt.Sprintf("roles %v", formatRoles(spec.Roles))
		return step, nil
	}
	if err != nil {
		return step, err
	}

	switch b.in.ConflictPolicy {
	case config.ConflictPolicyFail:
		step.Action = ActionConflict
		step.Detail = "user exists and conflict policy is fail"
		step.err = fmt.Errorf("%w: %s on %s", ErrUserExists, user, db)
	case config.ConflictPolicyUpdate:
		step.Action = ActionUpdate
		step.Detail = fmt.Sprintf("roles %v -> %v", formatRoles(existing.Roles), formatRoles(spec.Roles))
	default:
		if outside := rolesOutsideDB(existing.Roles, db); len(outside) > 0 {
			step.Action = ActionConflict
			step.Detail = fmt.Sprintf("roles outside %s: %v", db, formatRoles(outside))
			step.err = fmt.Errorf("%w: %s on %s holds %v", ErrRoleScope, user, db, formatRoles(outside))
		} else {
			step.Action = ActionSkip
			step.Detail = fmt.Sprintf("user exists with roles %v", formatRoles(existing.Roles))
		}
	}
	return step, nil
}
