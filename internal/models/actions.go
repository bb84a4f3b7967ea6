package models

// Agreement actions
const (
	ActionInitiate    = "initiate"
	ActionEdit        = "edit"
	ActionLock        = "lock"
	ActionRecall      = "recall"
	ActionSign        = "sign"
	ActionCountersign = "countersign"
	ActionCancel      = "cancel"
	ActionDecline     = "decline"
	ActionDelete      = "delete"
	ActionPay         = "pay"
)

// Rejection codes carried by InvalidTransitionError.
const (
	CodeAlreadyLocked = "already_locked"
	CodeAlreadySigned = "already_signed"
	CodeNotEditable   = "not_editable"
	CodeNotReady      = "not_ready"
	CodeNotRecallable = "not_recallable"
	CodeNotDeclinable = "not_declinable"
	CodeNotDeletable  = "not_deletable"
	CodeNotCompleted  = "not_completed"
	CodeTerminal      = "terminal"

	// payment-specific
	CodePaymentInProgress = "payment_in_progress"
	CodeAlreadyPaid       = "already_paid"
)

// ActionRule describes which party may perform an action from which statuses.
// An empty To means the action does not move the status (edit, delete, pay).
type ActionRule struct {
	From  []string
	Party string
	To    string
}

var AgreementActions = map[string]ActionRule{
	ActionEdit: {
		From:  []string{AgreementStatusDraft},
		Party: PartyLister,
	},
	ActionLock: {
		From:  []string{AgreementStatusDraft},
		Party: PartyLister,
		To:    AgreementStatusPendingTenantSignature,
	},
	ActionRecall: {
		From:  []string{AgreementStatusPendingTenantSignature},
		Party: PartyLister,
		To:    AgreementStatusDraft,
	},
	ActionSign: {
		From:  []string{AgreementStatusPendingTenantSignature},
		Party: PartyTenant,
		To:    AgreementStatusPendingListerSignature,
	},
	ActionCountersign: {
		From:  []string{AgreementStatusPendingListerSignature},
		Party: PartyLister,
		To:    AgreementStatusCompleted,
	},
	ActionCancel: {
		From:  []string{AgreementStatusDraft, AgreementStatusPendingTenantSignature, AgreementStatusPendingListerSignature},
		Party: PartyLister,
		To:    AgreementStatusCancelled,
	},
	ActionDecline: {
		From:  []string{AgreementStatusPendingTenantSignature},
		Party: PartyTenant,
		To:    AgreementStatusCancelled,
	},
	ActionDelete: {
		From:  []string{AgreementStatusDraft},
		Party: PartyLister,
	},
}

// CheckAction returns an *InvalidTransitionError if action is not allowed
// from status. It does not check who the actor is.
func CheckAction(action, status string) error {
	if action == ActionPay {
		if status == AgreementStatusCompleted {
			return nil
		}
		return &InvalidTransitionError{Action: action, Status: status, Code: CodeNotCompleted}
	}
	rule, ok := AgreementActions[action]
	if !ok {
		return &ValidationError{Field: "action", Reason: "unknown action " + action}
	}
	for _, s := range rule.From {
		if s == status {
			return nil
		}
	}
	return &InvalidTransitionError{Action: action, Status: status, Code: rejectionCode(action, status)}
}

func rejectionCode(action, status string) string {
	switch action {
	case ActionEdit:
		return CodeNotEditable
	case ActionDelete:
		return CodeNotDeletable
	}
	if status == AgreementStatusCancelled {
		return CodeTerminal
	}
	switch action {
	case ActionLock:
		return CodeAlreadyLocked
	case ActionSign:
		if status == AgreementStatusDraft {
			return CodeNotReady
		}
		return CodeAlreadySigned
	case ActionCountersign:
		if status == AgreementStatusCompleted {
			return CodeAlreadySigned
		}
		return CodeNotReady
	case ActionRecall:
		if status == AgreementStatusDraft {
			return CodeNotRecallable
		}
		return CodeAlreadySigned
	case ActionDecline:
		if status == AgreementStatusDraft {
			return CodeNotDeclinable
		}
		return CodeAlreadySigned
	}
	return CodeTerminal
}
