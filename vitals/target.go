package vitals

import (
	"strconv"
	"strings"
)

// ID is a practice or patient identifier. Canonical decimal ids travel as JSON numbers
// so they compare equal to the server's own numeric keys; anything else, "007" or "+7"
// included, travels as a string.
type ID string

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return []byte(strconv.Quote(string(id))), nil
}

// IntID formats a numeric identifier.
func IntID(value int64) ID { return ID(strconv.FormatInt(value, 10)) }

// Target names the room a connection subscribes to: one patient of a practice, or the
// whole practice when PatientID is empty.
type Target struct {
	PracticeID ID
	PatientID  ID
}

func (target Target) normalized() Target {
	return Target{
		PracticeID: ID(strings.TrimSpace(string(target.PracticeID))),
		PatientID:  ID(strings.TrimSpace(string(target.PatientID))),
	}
}

// Validate reports ErrInvalidTarget when no practice is named.
func (target Target) Validate() error {
	if target.normalized().PracticeID == "" {
		return NewError(InvalidTargetError, "practice id is required")
	}
	return nil
}

// PatientScoped reports whether the target names a single patient.
func (target Target) PatientScoped() bool {
	return target.normalized().PatientID != ""
}

// Join event names sent to the server after every successful connect.
const (
	joinPatientRoomEvent  = "join-patient-room"
	joinPracticeRoomEvent = "join-practice-room"
)

type patientRoomRequest struct {
	PracticeID ID `json:"practiceId"`
	PatientID  ID `json:"patientId"`
}

type practiceRoomRequest struct {
	PracticeID ID `json:"practiceId"`
}

// joinRequest returns the event name and payload asking the server for the target's room.
func (target Target) joinRequest() (string, any) {
	target = target.normalized()
	if target.PatientID != "" {
		return joinPatientRoomEvent, patientRoomRequest{PracticeID: target.PracticeID, PatientID: target.PatientID}
	}
	return joinPracticeRoomEvent, practiceRoomRequest{PracticeID: target.PracticeID}
}
