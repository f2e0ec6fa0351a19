package auth

import (
	"context"
	"maps"

	goerrors "github.com/goliatone/go-errors"
)

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid verification state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move an account out of Verified.
var ErrTerminalState = goerrors.New("verification state is terminal", goerrors.CategoryConflict).
	WithTextCode(TextCodeConflict).
	WithCode(goerrors.CodeConflict)

// Verification modes
const (
	VerificationModeTicket = "ticket"
	VerificationModeEmail  = "email"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor ActorRef
	User  *User
	From  VerificationState
	To    VerificationState
	Mode  string
	Meta  TransitionMetadata
}

// TransitionHook is executed after a transition is persisted.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// TransitionResult reports the account after a transition and whether the
// call changed it. Changed is false for an idempotent repeat.
type TransitionResult struct {
	User    *User
	Changed bool
}

// VerificationStateMachine owns the Pending to Verified transition. There is
// no other edge: Verified is terminal.
type VerificationStateMachine interface {
	// ConsumeTicket verifies the account holding the raw ticket
	ConsumeTicket(ctx context.Context, actor ActorRef, rawTicket string, opts ...TransitionOption) (*TransitionResult, error)
	// Transition moves user to target without a ticket
	Transition(ctx context.Context, actor ActorRef, user *User, target VerificationState, opts ...TransitionOption) (*TransitionResult, error)
	CurrentState(user *User) VerificationState
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*verificationStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock Clock) StateMachineOption {
	return func(sm *verificationStateMachine) {
		if clock != nil {
			sm.clock = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *verificationStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink and hook failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *verificationStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		maps.Copy(opts.metadata.Metadata, metadata)
	}
}

// WithAfterTransitionHook adds a hook executed after the state change is
// persisted. Hook failures are logged, the transition stands.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewVerificationStateMachine returns the default implementation backed by users.
func NewVerificationStateMachine(users Users, opts ...StateMachineOption) VerificationStateMachine {
	sm := &verificationStateMachine{
		users: users,
		transitions: map[VerificationState]map[VerificationState]struct{}{
			VerificationPending: {
				VerificationVerified: {},
			},
		},
		clock:        SystemClock,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type verificationStateMachine struct {
	users        Users
	transitions  map[VerificationState]map[VerificationState]struct{}
	clock        Clock
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	metadata   TransitionMetadata
	afterHooks []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: maps.Clone(o.metadata.Metadata),
	}
}

func (sm *verificationStateMachine) ConsumeTicket(ctx context.Context, actor ActorRef, rawTicket string, opts ...TransitionOption) (*TransitionResult, error) {
	if rawTicket == "" {
		return nil, ErrInvalidOrExpiredToken.Clone()
	}

	secretHash := HashTicket(rawTicket)

	user, err := sm.users.ConsumeTicket(ctx, secretHash, sm.clock.Now())
	if err == nil {
		sm.completed(ctx, actor, user, VerificationModeTicket, sm.buildTransitionOptions(opts...))
		return &TransitionResult{User: user, Changed: true}, nil
	}

	if !IsKind(err, TextCodeInvalidOrExpiredToken) {
		return nil, err
	}

	// a stale copy of an already consumed ticket is a no-op
	consumed, lookupErr := sm.users.FindByConsumedTicket(ctx, secretHash)
	if lookupErr == nil && consumed.IsVerified() {
		return &TransitionResult{User: consumed, Changed: false}, nil
	}
	if lookupErr != nil && !IsKind(lookupErr, TextCodeNotFound) {
		return nil, lookupErr
	}

	return nil, err
}

func (sm *verificationStateMachine) Transition(ctx context.Context, actor ActorRef, user *User, target VerificationState, opts ...TransitionOption) (*TransitionResult, error) {
	if user == nil {
		return nil, withDetails(ErrInvalidTransition, map[string]any{
			"target": target,
			"reason": "user is nil",
		})
	}

	from := sm.CurrentState(user)
	if target == "" {
		return nil, withDetails(ErrInvalidTransition, map[string]any{
			"reason": "target state is empty",
		})
	}

	if from == target {
		return &TransitionResult{User: user, Changed: false}, nil
	}

	if from == VerificationVerified {
		return nil, withDetails(ErrTerminalState, map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if !sm.canTransition(from, target) {
		return nil, withDetails(ErrInvalidTransition, map[string]any{
			"from": from,
			"to":   target,
		})
	}

	updated, err := sm.users.MarkVerified(ctx, user.ID.String(), sm.clock.Now())
	if err != nil {
		return nil, err
	}

	sm.completed(ctx, actor, updated, VerificationModeEmail, sm.buildTransitionOptions(opts...))

	return &TransitionResult{User: updated, Changed: true}, nil
}

func (sm *verificationStateMachine) CurrentState(user *User) VerificationState {
	if user == nil {
		return ""
	}
	if user.VerificationState == "" {
		return VerificationPending
	}
	return user.VerificationState
}

func (sm *verificationStateMachine) canTransition(from, to VerificationState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *verificationStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *verificationStateMachine) completed(ctx context.Context, actor ActorRef, user *User, mode string, options *transitionOptions) {
	tc := TransitionContext{
		Actor: actor,
		User:  user,
		From:  VerificationPending,
		To:    VerificationVerified,
		Mode:  mode,
		Meta:  options.cloneMetadata(),
	}

	for _, hook := range options.afterHooks {
		if err := hook(ctx, tc); err != nil {
			sm.logger.Error("verification hook failed", "user_id", user.ID, "mode", mode, "error", err)
		}
	}

	metadata := sm.transitionMetadata(tc.Meta)
	metadata["mode"] = mode

	activityRecorder{
		sink:   sm.activitySink,
		clock:  sm.clock,
		logger: sm.logger,
	}.record(ctx, ActivityEvent{
		EventType: ActivityEventUserVerified,
		Actor:     actor,
		UserID:    user.ID.String(),
		FromState: tc.From,
		ToState:   tc.To,
		Metadata:  metadata,
	})
}

func (sm *verificationStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	maps.Copy(result, meta.Metadata)
	return result
}
