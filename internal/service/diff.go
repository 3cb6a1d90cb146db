package service

import (
	"strings"

	"github.com/timmy/scrapewatch/internal/domain"
)

// Diff compares two consecutive runs of one instruction and returns the
// change events that lead from previous to current. A nil previous is the
// baseline run and yields no events.
//
// Records are aligned by RecordKey. Values are compared after trimming
// surrounding whitespace, case preserved, and a field missing on one side
// equals the empty string. Added and Modified events follow the order of
// current; Removed events follow the order of previous.
func Diff(previous, current *domain.RunResult) []domain.ChangeEvent {
	if previous == nil || current == nil {
		return nil
	}

	prevByKey := make(map[string]domain.ExtractedRecord, len(previous.Records))
	for _, rec := range previous.Records {
		prevByKey[rec.RecordKey] = rec
	}
	currKeys := make(map[string]struct{}, len(current.Records))

	var events []domain.ChangeEvent
	newEvent := func(t domain.ChangeType, key string, prev, next domain.FieldMap) domain.ChangeEvent {
		return domain.ChangeEvent{
			InstructionID: current.InstructionID,
			RunResultID:   current.ID,
			ChangeType:    t,
			RecordKey:     key,
			PreviousValue: prev.Clone(),
			NewValue:      next.Clone(),
		}
	}

	for _, rec := range current.Records {
		currKeys[rec.RecordKey] = struct{}{}
		old, existed := prevByKey[rec.RecordKey]
		switch {
		case !existed:
			events = append(events, newEvent(domain.ChangeAdded, rec.RecordKey, nil, rec.Fields))
		case !sameFields(old.Fields, rec.Fields):
			events = append(events, newEvent(domain.ChangeModified, rec.RecordKey, old.Fields, rec.Fields))
		}
	}

	for _, rec := range previous.Records {
		if _, still := currKeys[rec.RecordKey]; !still {
			events = append(events, newEvent(domain.ChangeRemoved, rec.RecordKey, rec.Fields, nil))
		}
	}

	return events
}

func sameFields(a, b domain.FieldMap) bool {
	for k, v := range a {
		if strings.TrimSpace(v) != strings.TrimSpace(b[k]) {
			return false
		}
	}
	for k, v := range b {
		if _, seen := a[k]; !seen && strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
