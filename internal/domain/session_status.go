package domain

type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusPaid       SessionStatus = "PAID"
	SessionStatusApproved   SessionStatus = "APPROVED"
	SessionStatusCancelled  SessionStatus = "CANCELLED"
)

// transitions lists the statuses reachable from each status.
// CANCELLED is terminal; nothing in the engine moves a session there yet.
var transitions = map[SessionStatus][]SessionStatus{
	SessionStatusInProgress: {SessionStatusSubmitted, SessionStatusCancelled},
	SessionStatusSubmitted:  {SessionStatusPaid, SessionStatusCancelled},
	SessionStatusPaid:       {SessionStatusApproved},
}

func CanTransitionTo(from, to SessionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusApproved || s == SessionStatusCancelled
}

// AcceptsItemChanges reports whether the cart may still be edited.
// Submitted carts stay editable until payment so staff can correct them.
func (s SessionStatus) AcceptsItemChanges() bool {
	return s == SessionStatusInProgress || s == SessionStatusSubmitted
}

// AcceptsTableChanges reports whether table/guest details may still be edited.
func (s SessionStatus) AcceptsTableChanges() bool {
	return s != SessionStatusPaid && s != SessionStatusApproved && s != SessionStatusCancelled
}

func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusInProgress, SessionStatusSubmitted, SessionStatusPaid,
		SessionStatusApproved, SessionStatusCancelled:
		return true
	}
	return false
}

// String representation (for logging)
func (s SessionStatus) String() string {
	return string(s)
}

type StoreType string

const (
	StoreTypeKirana     StoreType = "KIRANA"
	StoreTypeRestaurant StoreType = "RESTAURANT"
	StoreTypeTrain      StoreType = "TRAIN"
)

func (t StoreType) IsValid() bool {
	return t == StoreTypeKirana || t == StoreTypeRestaurant || t == StoreTypeTrain
}

// ContextTrainNumber is the context key every TRAIN session must carry.
const ContextTrainNumber = "trainNumber"

// RequiredContextKeys returns the context keys that must be non-empty for the store type.
func (t StoreType) RequiredContextKeys() []string {
	if t == StoreTypeTrain {
		return []string{ContextTrainNumber}
	}
	return nil
}
