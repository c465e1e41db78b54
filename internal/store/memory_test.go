package store

import (
	"errors"
	"testing"
	"time"

	"github.com/dosewell/dosewell/internal/model"
)

// The ephemeral implementation must uphold the same invariants the durable
// one enforces via schema constraints.

func TestMemoryDuplicateTerminalRejected(t *testing.T) {
	st := NewMemoryStorage()

	scheduledAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	if err := st.AppendAdherenceLog(t.Context(), testLog("a", 1, scheduledAt)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err := st.AppendAdherenceLog(t.Context(), testLog("b", 1, scheduledAt))
	if !errors.Is(err, ErrDuplicateTerminal) {
		t.Fatalf("second append error = %v, want ErrDuplicateTerminal", err)
	}
}

func TestMemoryScheduleLifecycle(t *testing.T) {
	st := NewMemoryStorage()

	sched, err := st.CreateSchedule(testScheduleRecord(1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sched.ID == 0 {
		t.Fatal("expected assigned id")
	}

	got, err := st.ScheduleByID(sched.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != "Paracetamol" {
		t.Fatalf("get = %v, want Paracetamol", got)
	}

	if err := st.DeleteSchedule(sched.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = st.ScheduleByID(sched.ID)
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestMemoryDesignationExclusive(t *testing.T) {
	st := NewMemoryStorage()

	a, _ := st.CreateFamilyMember(model.FamilyMember{UserID: 1, Name: "A"})
	b, _ := st.CreateFamilyMember(model.FamilyMember{UserID: 1, Name: "B"})

	if err := st.DesignateFamilyMember(1, a.ID); err != nil {
		t.Fatalf("designate: %v", err)
	}
	if err := st.DesignateFamilyMember(1, b.ID); err != nil {
		t.Fatalf("designate: %v", err)
	}

	members, _ := st.FamilyMembersForUser(1)
	count := 0
	for _, m := range members {
		if m.Designated {
			count++
		}
	}
	if count != 1 {
		t.Errorf("designated count = %d, want 1", count)
	}
}

func TestMemoryPushUpsertByEndpoint(t *testing.T) {
	st := NewMemoryStorage()

	first, err := st.SavePushSubscription(model.PushSubscription{UserID: 1, Endpoint: "https://push/1", P256dhKey: "k1", AuthKey: "a1"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := st.SavePushSubscription(model.PushSubscription{UserID: 1, Endpoint: "https://push/1", P256dhKey: "k2", AuthKey: "a2"})
	if err != nil {
		t.Fatalf("re-save: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("upsert created new row: %d vs %d", first.ID, second.ID)
	}

	subs, _ := st.PushSubscriptionsForUser(1)
	if len(subs) != 1 || subs[0].P256dhKey != "k2" {
		t.Errorf("subs = %v, want single refreshed subscription", subs)
	}
}
